package exception

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// maxCauseDepth bounds the nested "cause" chain written into job data.
const maxCauseDepth = 8

// SerializeError converts err into a JSON-compatible map suitable for persisting in a
// failed job's data column. The map carries the error's type name (the registered name
// for sentinels passed to RegisterErrorType), message and, for
// BatchError, its module and stack. Wrapped causes are nested under "cause".
func SerializeError(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	return serializeError(err, 0)
}

func serializeError(err error, depth int) map[string]interface{} {
	out := map[string]interface{}{
		"name":    errorName(err),
		"message": err.Error(),
	}

	var next error
	if be, ok := err.(*BatchError); ok {
		out["message"] = be.Message
		out["module"] = be.Module
		if be.StackTrace != "" {
			out["stack"] = be.StackTrace
		}
		next = be.OriginalErr
	} else if joined, ok := err.(interface{ Unwrap() []error }); ok {
		causes := make([]interface{}, 0)
		if depth < maxCauseDepth {
			for _, c := range joined.Unwrap() {
				if c != nil {
					causes = append(causes, serializeError(c, depth+1))
				}
			}
		}
		if len(causes) > 0 {
			out["causes"] = causes
		}
		return out
	} else {
		next = errors.Unwrap(err)
	}

	if next != nil && depth < maxCauseDepth {
		out["cause"] = serializeError(next, depth+1)
	}
	return out
}

func errorName(err error) string {
	if name, ok := registeredName(err); ok {
		return name
	}
	t := reflect.TypeOf(err)
	if t == nil {
		return "error"
	}
	name := t.String()
	if t.Kind() == reflect.Ptr {
		name = t.Elem().String()
	}
	// errors.New and fmt.Errorf produce unexported types that carry no useful name.
	if strings.HasPrefix(name, "errors.") || strings.HasPrefix(name, "fmt.") {
		return "Error"
	}
	return name
}

// DescribeError renders a serialized error map as a single line for CLI output.
func DescribeError(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	msg, _ := data["message"].(string)
	name, _ := data["name"].(string)
	if name == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", name, msg)
}
