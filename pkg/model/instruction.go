package model

// Step is a single action of a task instruction or a generated plan
type Step struct {
	Step            int    `json:"step" yaml:"step" jsonschema:"Step number starting from 1"`
	Action          string `json:"action" yaml:"action" jsonschema:"Brief action title"`
	Description     string `json:"description" yaml:"description" jsonschema:"Detailed description of what to do"`
	EstimatedEffort string `json:"estimated_effort,omitempty" yaml:"estimated_effort,omitempty" jsonschema:"One of low, medium or high"`
}

// TaskInstruction is one long-term instruction document collapsed from its best-scoring chunk
type TaskInstruction struct {
	DocumentID      string   `json:"document_id"`
	Title           string   `json:"title"`
	Category        string   `json:"category,omitempty"`
	Intent          string   `json:"intent,omitempty"`
	Description     string   `json:"description,omitempty"`
	Content         string   `json:"content,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
	Steps           []Step   `json:"steps,omitempty"`
	RelatedTasks    []string `json:"related_tasks,omitempty"`
	ChunkNum        int      `json:"chunk_num"`
	TotalChunks     int      `json:"total_chunks"`
	Score           float64  `json:"score"`
}
