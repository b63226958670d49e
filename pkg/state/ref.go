package state

import (
	"fmt"
	"strings"

	querystate "github.com/goliatone/go-query-state"
)

// Ref identifies one persisted partition.
type Ref struct {
	App   string
	Store querystate.FilterStore
}

// GlobalRef is the shared partition.
func GlobalRef() Ref {
	return Ref{Store: querystate.FilterStoreGlobal}
}

// AppRef is the partition of app.
func AppRef(app string) Ref {
	return Ref{App: app, Store: querystate.FilterStoreApp}
}

// Identifier returns the storage key of the partition. The global partition
// ignores App.
func (r Ref) Identifier() (string, error) {
	switch r.Store {
	case querystate.FilterStoreGlobal:
		return "global", nil
	case querystate.FilterStoreApp:
		app := strings.TrimSpace(r.App)
		if app == "" {
			return "", fmt.Errorf("state: app is required for the %s partition", r.Store)
		}
		if strings.Contains(app, "/") {
			return "", fmt.Errorf("state: app %q must not contain '/'", app)
		}
		return "app/" + app, nil
	default:
		return "", fmt.Errorf("state: unsupported partition %q", r.Store)
	}
}

// String is the identifier, or a placeholder for invalid refs.
func (r Ref) String() string {
	id, err := r.Identifier()
	if err != nil {
		return fmt.Sprintf("invalid(%s/%s)", r.Store, r.App)
	}
	return id
}

// ParsePartition accepts "global"/"g"/"globalState" and "app"/"a"/"appState".
func ParsePartition(value string) (querystate.FilterStore, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "global", "g", "_g", "globalstate":
		return querystate.FilterStoreGlobal, nil
	case "app", "a", "_a", "appstate":
		return querystate.FilterStoreApp, nil
	}
	return "", fmt.Errorf("state: unknown partition %q", value)
}

// chain returns the refs of app from strongest to weakest.
func chain(app string) []Ref {
	return []Ref{AppRef(app), GlobalRef()}
}
