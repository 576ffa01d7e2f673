package host

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/xeipuuv/gojsonschema"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
)

// Request is one invocation as received on the wire.
type Request struct {
	// Data is the base64-encoded bundle.
	Data        string        `json:"data"`
	PkgName     string        `json:"pkgName,omitempty"`
	SourceIndex int           `json:"sourceIndex"`
	Method      string        `json:"method"`
	Args        dispatch.Args `json:"args,omitempty"`
}

const requestSchemaJSON = `{
  "type": "object",
  "required": ["data", "method"],
  "properties": {
    "data":        {"type": "string", "minLength": 1},
    "method":      {"type": "string", "minLength": 1},
    "sourceIndex": {"type": "integer", "minimum": 0},
    "args":        {"type": "array"},
    "pkgName":     {"type": "string"}
  }
}`

var requestSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchemaJSON))
	if err != nil {
		panic(err)
	}
	return s
}()

// ParseRequest validates body against the request schema and decodes it.
func ParseRequest(body []byte) (*Request, error) {
	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, exterr.Marshal(err, "request body is not JSON")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, exterr.Marshal(nil, "invalid request: %s", strings.Join(problems, "; "))
	}

	var req Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		return nil, exterr.Marshal(err, "decode request")
	}
	return &req, nil
}
