package gitlab

// project, tag and file are GitLab API v4 wire shapes, trimmed to the
// fields the adapter reads.
type (
	project struct {
		ID                int    `json:"id"`
		PathWithNamespace string `json:"path_with_namespace"`
	}

	commitInlined struct {
		ID string `json:"id"`
	}

	tag struct {
		Name   string        `json:"name"`
		Commit commitInlined `json:"commit"`
	}

	file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
)
