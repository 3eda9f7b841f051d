package protocol

import "errors"

const (
	// PortSuccess is the port used when a body does not name one.
	PortSuccess = "success"
	// PortOutput replaces PortSuccess for start and trigger nodes.
	PortOutput = "output"
	// PortError carries Failure results.
	PortError = "error"
)

// Result is either Success or Failure.
type Result interface {
	result()
}

// Success is a normal completion. An empty Port means the default port.
type Success struct {
	Payload any
	Port    string
}

func (Success) result() {}

// Failure is an error reported as data: it is routed on the error port and the job still finishes.
type Failure struct {
	Err  error
	Data map[string]any
}

func (Failure) result() {}

// Output is a Success on the default port.
func Output(payload any) Success {
	return Success{Payload: payload}
}

// OnPort is a Success on a named port.
func OnPort(port string, payload any) Success {
	return Success{Payload: payload, Port: port}
}

// Fail builds a Failure from a message.
func Fail(message string) Failure {
	return Failure{Err: errors.New(message)}
}

// Payload returns the data routed downstream for a failure.
func (f Failure) Payload() map[string]any {
	payload := map[string]any{"success": false}

	for key, value := range f.Data {
		payload[key] = value
	}

	if f.Err != nil {
		payload["error"] = f.Err.Error()
	} else if _, ok := payload["error"]; !ok {
		payload["error"] = "unknown error"
	}

	return payload
}
