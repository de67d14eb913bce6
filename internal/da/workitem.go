package da

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrUnsupportedArgument is returned when a work-item definition is built
// from an argument of an unknown kind. A programming error: never retried.
var ErrUnsupportedArgument = errors.New("unsupported argument kind")

// Argument kinds.
const (
	KindValue    = "value"
	KindResource = "resource"
)

const (
	// blobHostSuffix identifies signed URLs pointing at the cloud-blob
	// storage provider, which requires a block-type header on writes.
	blobHostSuffix = ".blob.core.windows.net"

	blockBlobHeader = "x-ms-blob-type"
	blockBlobValue  = "BlockBlob"
)

// Argument is a named job parameter: either a literal string value or a
// resource reference. Arguments are immutable once built.
type Argument struct {
	Kind      string
	Value     string // literal, Kind == KindValue
	URL       string
	Verb      string // "read"/"get" for inputs; a write verb for outputs
	Optional  bool
	LocalName string
	PathInZip string
	Headers   map[string]string
}

// WorkItemInput is one entry of a work item's input list.
type WorkItemInput struct {
	Name      string            `json:"name"`
	URL       string            `json:"url,omitempty"`
	Value     string            `json:"value,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	LocalName string            `json:"localName,omitempty"`
	PathInZip string            `json:"pathInZip,omitempty"`
}

// WorkItemOutput is one entry of a work item's output list.
type WorkItemOutput struct {
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Verb      string            `json:"verb"`
	Optional  bool              `json:"optional,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	LocalName string            `json:"localName,omitempty"`
}

// WorkItemDefinition is the engine-native job shape: explicit input and
// output lists.
type WorkItemDefinition struct {
	Inputs  []WorkItemInput  `json:"inputs"`
	Outputs []WorkItemOutput `json:"outputs"`
}

// BuildWorkItem translates a named-argument map into the engine's explicit
// input/output lists. Read resources become inputs, write resources become
// outputs, literal values become value-carrying inputs. Entries are ordered
// by argument name so the wire shape is stable.
func BuildWorkItem(args map[string]Argument) (WorkItemDefinition, error) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	var def WorkItemDefinition
	for _, name := range names {
		arg := args[name]
		switch arg.Kind {
		case KindValue:
			def.Inputs = append(def.Inputs, WorkItemInput{
				Name:  name,
				Value: arg.Value,
			})
		case KindResource:
			if isReadVerb(arg.Verb) {
				def.Inputs = append(def.Inputs, WorkItemInput{
					Name:      name,
					URL:       arg.URL,
					Headers:   resourceHeaders(arg),
					LocalName: arg.LocalName,
					PathInZip: arg.PathInZip,
				})
			} else {
				def.Outputs = append(def.Outputs, WorkItemOutput{
					Name:      name,
					URL:       arg.URL,
					Verb:      outputVerb(arg.Verb),
					Optional:  arg.Optional,
					Headers:   resourceHeaders(arg),
					LocalName: arg.LocalName,
				})
			}
		default:
			return WorkItemDefinition{}, fmt.Errorf("%w: %q for argument %q", ErrUnsupportedArgument, arg.Kind, name)
		}
	}
	return def, nil
}

func isReadVerb(verb string) bool {
	v := strings.ToLower(verb)
	return v == "" || v == "read" || v == "get"
}

// outputVerb lowercases the verb to its wire string. Anything outside the
// engine's accepted set falls back to "put".
func outputVerb(verb string) string {
	switch v := strings.ToLower(verb); v {
	case "put", "post":
		return v
	default:
		return "put"
	}
}

// resourceHeaders returns the argument's headers, injecting the block-blob
// type header when the URL targets the cloud-blob provider and the caller
// did not set one. Callers stay provider-agnostic; the requirement is
// derived from the URL host.
func resourceHeaders(arg Argument) map[string]string {
	if !isBlobProviderURL(arg.URL) || hasBlockTypeHeader(arg.Headers) {
		return arg.Headers
	}

	headers := make(map[string]string, len(arg.Headers)+1)
	for k, v := range arg.Headers {
		headers[k] = v
	}
	headers[blockBlobHeader] = blockBlobValue
	return headers
}

func isBlobProviderURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasSuffix(host, blobHostSuffix) || host == strings.TrimPrefix(blobHostSuffix, ".")
}

func hasBlockTypeHeader(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, blockBlobHeader) {
			return true
		}
	}
	return false
}
