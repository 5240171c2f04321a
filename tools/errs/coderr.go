package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CodeError is the error currency of the sync core. Code identifies the
// failure class, Msg is human readable, Detail accumulates context.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// WrapMsg returns a copy carrying extra detail, formatted as k=v pairs.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	out := e.clone()
	detail := toDetail(msg, kv)
	if detail != "" {
		if out.Detail == "" {
			out.Detail = detail
		} else {
			out.Detail += ", " + detail
		}
	}
	return out
}

// Is matches by code so wrapped copies still compare equal to the sentinel.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

func toDetail(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprintf("%v=%v", kv[i], kv[i+1]))
		} else {
			sb.WriteString(fmt.Sprintf("%v", kv[i]))
		}
	}
	return sb.String()
}
