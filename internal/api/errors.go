package api

import "fmt"

var errBridgeDisabled = fmt.Errorf("cloud bridge is not configured")

func errNotFound(kind, id string) error {
	return fmt.Errorf("%s not found: %s", kind, id)
}

func errMissingField(name string) error {
	return fmt.Errorf("missing required field: %s", name)
}
