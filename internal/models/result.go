package models

// SearchResult is a single retrieval hit: a chunk, its cosine similarity and the
// identifying fields of its parent act.
type SearchResult struct {
	Chunk     *Chunk  `json:"chunk"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
	Title     string  `json:"title,omitempty"`
	ActNumber string  `json:"act_number,omitempty"`
	Date      string  `json:"date,omitempty"`
	Authority string  `json:"authority,omitempty"`
	URL       string  `json:"url,omitempty"`
}

// SearchResponse is the response for a search request. An empty Results slice
// means nothing passed the threshold; it is never nil on success.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Query     string          `json:"query,omitempty"`
	TopK      int             `json:"top_k"`
	Threshold float64         `json:"similarity_threshold"`
	QueryTime int64           `json:"query_time_ms"`
}
