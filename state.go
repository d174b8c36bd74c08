package dstore

type State uint8

const (
	// StateEmpty is a placeholder created by Find before its data arrives.
	StateEmpty State = iota
	StateLoaded
	StateDirty
	StateNew
	StateNewDirty
	// StateDeleted is a pending delete that still has to reach the adapter.
	StateDeleted
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	case StateNew:
		return "new"
	case StateNewDirty:
		return "newDirty"
	case StateDeleted:
		return "deleted"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

type operation uint8

const (
	opNone operation = iota
	opCreate
	opUpdate
	opDelete
)

func (op operation) String() string {
	switch op {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	}
	return "none"
}

// pendingOperation is what a commit would ask the adapter to do.
func (s State) pendingOperation() operation {
	switch s {
	case StateNew, StateNewDirty:
		return opCreate
	case StateDirty:
		return opUpdate
	case StateDeleted:
		return opDelete
	}
	return opNone
}

func (s State) isNew() bool {
	return s == StateNew || s == StateNewDirty
}
