package domain

// Metadata keys shared by brochure chunks and training snippets.
const (
	MetaSource      = "source"
	MetaProjectName = "project_name"
	MetaBrochureID  = "brochure_id"
	MetaChunkIndex  = "chunk_index"
	MetaType        = "type"
)

type SemanticRecord struct {
	ID       string
	Text     string
	Metadata map[string]string
}

type SemanticMatch struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

func (m SemanticMatch) Source() string {
	if src := m.Metadata[MetaSource]; src != "" {
		return src
	}
	return "Unknown"
}

// MetadataFilter is an equality match on a single metadata key.
type MetadataFilter struct {
	Key   string
	Value string
}

func ProjectFilter(project string) *MetadataFilter {
	if project == "" {
		return nil
	}
	return &MetadataFilter{Key: MetaProjectName, Value: project}
}

type TrainingKind string

const (
	TrainingDDL           TrainingKind = "ddl"
	TrainingDocumentation TrainingKind = "documentation"
	TrainingSQLExample    TrainingKind = "sql_example"
)

type TrainingSnippet struct {
	Kind TrainingKind `yaml:"kind"`
	Text string       `yaml:"text"`
}
