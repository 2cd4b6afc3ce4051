package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost   ResultType = "post"
	ResultClient ResultType = "client"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ClientID string     `json:"clientId"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterClientID string
	Limit          int
	Offset         int
	IsExternal     bool
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexClient(c ClientRecord) error
	DeletePost(id string) error
	DeleteClient(id string) error
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Copy     string `json:"copy"`
	Hashtags string `json:"hashtags"`
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
