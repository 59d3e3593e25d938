package cdp

import (
	"fmt"
	"strconv"
	"strings"
)

// PathError reports a dot-path that does not resolve in a response or event
// body.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

// CommandError is the error object carried by a CDP error response.
type CommandError struct {
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Response wraps one CDP command response and supports dot-path extraction
// over its parsed JSON body, e.g. Get("result.frameId").
type Response struct {
	id     int64
	raw    map[string]any
	result map[string]any
	err    *CommandError
}

func newResponse(raw map[string]any) *Response {
	r := &Response{raw: raw}
	if id, ok := raw["id"].(float64); ok {
		r.id = int64(id)
	}
	if result, ok := raw["result"].(map[string]any); ok {
		r.result = result
	}
	if errObj, ok := raw["error"].(map[string]any); ok {
		r.err = &CommandError{}
		if code, ok := errObj["code"].(float64); ok {
			r.err.Code = int(code)
		}
		if msg, ok := errObj["message"].(string); ok {
			r.err.Message = msg
		}
	}
	return r
}

// ID returns the correlation id the response carried.
func (r *Response) ID() int64 {
	return r.id
}

// IsError reports whether the response carried an error object.
func (r *Response) IsError() bool {
	return r.err != nil
}

// Err returns the error object, nil for result responses.
func (r *Response) Err() *CommandError {
	return r.err
}

// Result returns the result object, nil for error responses.
func (r *Response) Result() map[string]any {
	return r.result
}

// Raw returns the full parsed response body.
func (r *Response) Raw() map[string]any {
	return r.raw
}

// Get extracts a value by dot path over the full body, e.g. "result.frameId".
// A missing path yields a *PathError.
func (r *Response) Get(path string) (any, error) {
	return getPath(r.raw, path)
}

// GetString extracts a value by dot path and renders it as a string.
func (r *Response) GetString(path string) (string, error) {
	v, err := r.Get(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

// GetInt extracts a value by dot path and converts it to an int.
func (r *Response) GetInt(path string) (int, error) {
	v, err := r.Get(path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("value at %s is not a number: %T", path, v)
	}
}

// GetBool extracts a value by dot path and converts it to a bool.
func (r *Response) GetBool(path string) (bool, error) {
	v, err := r.Get(path)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("value at %s is not a bool: %T", path, v)
	}
}

// getPath walks a parsed JSON object by dot notation.
func getPath(m map[string]any, path string) (any, error) {
	if m == nil {
		return nil, &PathError{Path: path}
	}
	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, &PathError{Path: path}
		}
		current, ok = obj[part]
		if !ok {
			return nil, &PathError{Path: path}
		}
	}
	return current, nil
}

// Event is one unsolicited server-originated CDP message.
type Event struct {
	Method string
	Params map[string]any
}

// Get extracts a value from the event params by dot path.
func (e Event) Get(path string) (any, error) {
	return getPath(e.Params, path)
}
