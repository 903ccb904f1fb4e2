package pkengine

import "fmt"

// versionString renders the engine's advertised PKVER payload:
// MAJOR.MINOR.PATCH with MAJOR fixed at ProtocolMajor, MINOR.PATCH
// supplied by the collaborator Version reporter (SUPPLEMENTED FEATURES
// #1). A nil reporter advertises MINOR.PATCH = 0.0.
func (e *Engine) versionString() string {
	minor, patch := 0, 0
	if e.collab.Version != nil {
		minor, patch = e.collab.Version.Version()
	}
	return fmt.Sprintf("%d.%d.%d", ProtocolMajor, minor, patch)
}
