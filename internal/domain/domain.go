package domain

// Lifecycle values of WorkItem.Processed.
const (
	ProcessedNo      = "no"
	ProcessedSkipped = "skipped"
	ProcessedReject  = "reject"
	ProcessedYes     = "yes"
)

// Claim values of WorkItem.Taken.
const (
	TakenNo  = "no"
	TakenYes = "yes"
)

// ActionProcessed is the only action recorded in the annotation log.
const ActionProcessed = "processed"

// Keys naming which candidate translation was chosen.
const (
	Translation1 = "translation_1"
	Translation2 = "translation_2"
	Translation3 = "translation_3"
)

// WorkItem is one source sentence with its candidate translations and claim state.
type WorkItem struct {
	EntityID     string  `json:"entity_id"`
	Keyword      string  `json:"keyword,omitempty"`
	SourceText   string  `json:"source_text"`
	Translation1 string  `json:"translation_1"`
	Translation2 string  `json:"translation_2"`
	Translation3 string  `json:"translation_3"`
	Dialect      string  `json:"dialect,omitempty"`
	Processed    string  `json:"processed" enum:"no,skipped,reject,yes"`
	Taken        string  `json:"taken" enum:"no,yes"`
	TakenBy      *string `json:"taken_by,omitempty"`
}

// Translations returns the candidates in positional order.
func (w WorkItem) Translations() []string {
	return []string{w.Translation1, w.Translation2, w.Translation3}
}

// TranslationKey returns the key of the first candidate equal to text.
func (w WorkItem) TranslationKey(text string) (string, bool) {
	for i, t := range w.Translations() {
		if t == text {
			return TranslationKeyAt(i), true
		}
	}
	return "", false
}

// TranslationKeyAt maps a zero-based position to its key.
func TranslationKeyAt(i int) string {
	switch i {
	case 0:
		return Translation1
	case 1:
		return Translation2
	default:
		return Translation3
	}
}

// ClaimedBy reports whether the item is currently claimed by annotatorID.
func (w WorkItem) ClaimedBy(annotatorID string) bool {
	return w.Taken == TakenYes && w.TakenBy != nil && *w.TakenBy == annotatorID
}

// Terminal reports whether the item can never be offered again.
func (w WorkItem) Terminal() bool {
	return w.Processed == ProcessedYes || w.Processed == ProcessedReject
}

type Annotation struct {
	ID                  int64  `json:"id"`
	EntityID            string `json:"entity_id"`
	SelectedTranslation string `json:"selected_translation" enum:"translation_1,translation_2,translation_3"`
	EditedSource        string `json:"edited_source"`
	EditedTranslation   string `json:"edited_translation"`
	Action              string `json:"action"`
	AnnotatorID         string `json:"annotator_id"`
	Datestamp           string `json:"datestamp"`
}

type TokenMapping struct {
	EntityID         string `json:"entity_id"`
	AnnotatorID      string `json:"annotator_id"`
	SourceToken      string `json:"source_token"`
	TranslationToken string `json:"translation_token"`
}

// PreviousMapping is an earlier alignment of a source token, shown with the
// edited source sentence it came from.
type PreviousMapping struct {
	EntityID         string `json:"entity_id"`
	SourceToken      string `json:"source_token"`
	TranslationToken string `json:"translation_token"`
	EditedSource     string `json:"edited_source,omitempty"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	EntityID    string `json:"entity_id,omitempty"`
	AnnotatorID string `json:"annotator_id"`
	Payload     string `json:"payload_json"`
}
