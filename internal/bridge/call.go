package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MethodCall is one inbound command from the host application.
type MethodCall struct {
	Method    string
	Arguments json.RawMessage
}

// Decode unmarshals the call arguments into v. Absent or null arguments
// leave v untouched.
func (c MethodCall) Decode(v any) error {
	args := bytes.TrimSpace(c.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, c.Method, err)
	}
	return nil
}

type downloadArgs struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

type multiDownloadArgs struct {
	URLs      []string `json:"urls"`
	FileNames []string `json:"fileNames"`
}

type urlArgs struct {
	URL string `json:"url"`
}

type removeArgs struct {
	URL        string `json:"url"`
	Completely bool   `json:"completely"`
}

type removeAllArgs struct {
	Completely bool `json:"completely"`
}
