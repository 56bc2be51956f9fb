package handbook

// Passage is one retrievable chunk of a handbook page.
type Passage struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Section    string `json:"section"`
	SourceFile string `json:"sourceFile"`
	Text       string `json:"text"`
}

// Metadata returns the passage attributes carried alongside retrieved documents.
func (p Passage) Metadata() map[string]any {
	return map[string]any{
		"title":       p.Title,
		"section":     p.Section,
		"source_file": p.SourceFile,
	}
}
