package model

// Notebook groups related pages.
type Notebook struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Metadata    Object `json:"metadata"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Page groups related entries within a notebook.
type Page struct {
	ID          string `json:"id"`
	NotebookID  string `json:"notebook_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Narrative   Object `json:"narrative"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// NewNotebook creates a new Notebook.
func NewNotebook(id, title, description string) Notebook {
	now := Now()
	return Notebook{
		ID:          id,
		Title:       title,
		Description: description,
		Metadata:    Object{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewPage creates a new Page with an empty narrative.
func NewPage(id, notebookID, title, description string) Page {
	now := Now()
	return Page{
		ID:          id,
		NotebookID:  notebookID,
		Title:       title,
		Description: description,
		Narrative: Object{
			"goals":        "",
			"hypothesis":   "",
			"observations": "",
			"conclusions":  "",
			"next_steps":   "",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NotebookPatch holds updatable notebook fields.
type NotebookPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Metadata    *Object `json:"metadata,omitempty"`
}

// PagePatch holds updatable page fields. Narrative keys are merged into the
// existing narrative.
type PagePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Narrative   Object  `json:"narrative,omitempty"`
}

// IntegrationVariable is a stored default value for an integration input.
type IntegrationVariable struct {
	IntegrationType string `json:"integration_type"`
	Name            string `json:"name"`
	Value           any    `json:"value"`
	Description     string `json:"description"`
	IsSecret        bool   `json:"is_secret"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// SecretMask replaces secret values in listings.
const SecretMask = "********"

// Masked returns a copy of v with the value hidden when it is secret.
func (v IntegrationVariable) Masked() IntegrationVariable {
	if v.IsSecret {
		v.Value = SecretMask
	}
	return v
}
