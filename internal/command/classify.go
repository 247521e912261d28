package command

// Kind is the classification outcome for a command.
type Kind int

const (
	// KindReadOnly indicates the command only reads the tree. It is the
	// zero value so an uninitialized classification defaults to the
	// conservative dispatch path (sequential execution still runs it
	// through the full sandbox policy).
	KindReadOnly Kind = iota

	// KindOther indicates the command is not known to be read-only.
	KindOther
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindReadOnly:
		return "read-only"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Classifier decides how a command should be dispatched. The orchestrator
// never infers intent from natural language; classification is structural.
type Classifier interface {
	Classify(cmd Command) Kind
}

// ReadOnlyClassifier classifies the fixed whitelist as read-only and
// everything else as other. Flags that would make a nominally read-only
// command mutate the tree (find -delete, find -exec) demote it.
type ReadOnlyClassifier struct{}

var readOnlyNames = map[string]bool{
	NameGrep: true,
	NameFind: true,
	NameCat:  true,
	NameHead: true,
	NameTail: true,
	NameLs:   true,
	NameWc:   true,
}

// Classify implements Classifier.
func (ReadOnlyClassifier) Classify(cmd Command) Kind {
	if !readOnlyNames[cmd.Name] {
		return KindOther
	}
	if cmd.Mutating() {
		return KindOther
	}
	return KindReadOnly
}

var _ Classifier = ReadOnlyClassifier{}
