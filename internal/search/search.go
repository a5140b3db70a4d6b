package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
	DueDate  string `json:"dueDate"`
}

// Query describes a search request. UserID is mandatory; results never
// cross user boundaries.
type Query struct {
	UserID         string
	Text           string
	FilterCategory string
	FilterStatus   string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// IndexRecord is the data we index for a document record.
type IndexRecord struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Notes       string   `json:"notes"`
	Tags        []string `json:"tags"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	DueDate     string   `json:"dueDate"`
}
