package core

// Request describes one REST call an exchange adapter issues for an operation.
type Request struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Weight int               `json:"weight"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  make(map[string]string),
		Weight: 1,
	}
}

// SetQuery sets a query parameter; empty values are skipped.
func (r *Request) SetQuery(key, value string) *Request {
	if value == "" {
		return r
	}
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	r.Weight = weight
	return r
}
