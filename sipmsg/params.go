package sipmsg

import (
	"strings"
)

// ParamKV is a single key/value entry of an ordered parameter list. SIP
// headers and URIs both carry ";param=value" lists where order of
// appearance must be preserved on re-encode (RFC 3261 does not mandate
// canonical ordering of unknown params).
type ParamKV struct {
	Key   string
	Value string
}

// Params is an ordered map of Symbol->Value, used for header params,
// URI params and URI headers (spec.md S3 data model).
type Params []ParamKV

func NewParams() Params { return make(Params, 0, 4) }

func (p Params) index(key string) int {
	key = HeaderToLower(key)
	for i, kv := range p {
		if HeaderToLower(kv.Key) == key {
			return i
		}
	}
	return -1
}

// Get returns the value for key (case-insensitive) and whether it exists.
func (p Params) Get(key string) (string, bool) {
	if i := p.index(key); i >= 0 {
		return p[i].Value, true
	}
	return "", false
}

// Has reports whether key is present.
func (p Params) Has(key string) bool { return p.index(key) >= 0 }

// Add sets key to value, overwriting an existing entry or appending a new
// one at the end (preserving the existing position on overwrite).
func (p *Params) Add(key, value string) {
	if i := p.index(key); i >= 0 {
		(*p)[i].Value = value
		return
	}
	*p = append(*p, ParamKV{Key: key, Value: value})
}

// Remove deletes key if present.
func (p *Params) Remove(key string) {
	if i := p.index(key); i >= 0 {
		*p = append((*p)[:i], (*p)[i+1:]...)
	}
}

// Len returns the number of entries.
func (p Params) Len() int { return len(p) }

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

const paramsNeedQuoting = "\"(),:;<>@[]?={}\t "

// EncodeTo renders the params joined by sep, each as key or key=value,
// quoting values that contain separator-significant characters.
func (p Params) EncodeTo(sb *strings.Builder, sep byte) {
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte(sep)
		}
		sb.WriteString(kv.Key)
		if kv.Value == "" {
			continue
		}
		sb.WriteByte('=')
		if strings.ContainsAny(kv.Value, paramsNeedQuoting) {
			sb.WriteByte('"')
			sb.WriteString(kv.Value)
			sb.WriteByte('"')
		} else {
			sb.WriteString(kv.Value)
		}
	}
}

// ParseParams reads "key1=val1<sep>key2=val2..." from s until it hits end
// (a byte in stopset) or runs out of input, honouring quoted values, and
// appends entries into dst. It returns the number of bytes consumed.
func ParseParams(s string, sep byte, stopset string, dst *Params) (int, error) {
	i := 0
	n := len(s)
	for i < n {
		if stopset != "" && strings.IndexByte(stopset, s[i]) >= 0 {
			break
		}
		// key
		keyStart := i
		for i < n && s[i] != '=' && s[i] != sep && (stopset == "" || strings.IndexByte(stopset, s[i]) < 0) {
			i++
		}
		key := s[keyStart:i]
		var val string
		if i < n && s[i] == '=' {
			i++
			if i < n && s[i] == '"' {
				i++
				valStart := i
				closed := false
				for i < n {
					if s[i] == '\\' {
						i += 2
						continue
					}
					if s[i] == '"' {
						closed = true
						break
					}
					i++
				}
				if !closed {
					return i, newParseError("unterminated quoted param value", valStart)
				}
				val = s[valStart:i]
				i++ // closing quote
			} else {
				valStart := i
				for i < n && s[i] != sep && (stopset == "" || strings.IndexByte(stopset, s[i]) < 0) {
					i++
				}
				val = s[valStart:i]
			}
		}
		if key != "" {
			dst.Add(key, val)
		}
		if i < n && s[i] == sep {
			i++
			continue
		}
		break
	}
	return i, nil
}
