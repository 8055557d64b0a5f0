package core

// EmptyResult is returned by operations that have nothing to report
// besides success.
var EmptyResult = struct {
	OK bool `json:"ok"`
}{OK: true}

// ErrorBody is the structured error reply sent by receivers and the REST
// surface.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
