package publish

// Action is what publishing one asset will do to the release: add a new
// asset or replace an existing one of the same name.
type Action string

const (
	ActionAdd     Action = "add"
	ActionReplace Action = "replace"
)

// Reconcile decides, from the set of asset names already on the release,
// what publishing a file of the given name does. The same name never yields
// two assets, and names not passed in are never touched.
func Reconcile(existing map[string]int64, name string) Action {
	if _, ok := existing[name]; ok {
		return ActionReplace
	}
	return ActionAdd
}
