package internal

import "time"

type Level string

const (
	LevelBasic     Level = "basica"
	LevelSecondary Level = "media"
)

// MaxGrade returns the highest valid grade for the level, or 0 for an unknown level.
func (l Level) MaxGrade() int {
	switch l {
	case LevelBasic:
		return 8
	case LevelSecondary:
		return 4
	default:
		return 0
	}
}

type GradeMethod string

const (
	MethodRoman         GradeMethod = "roman numeral"
	MethodSpelled       GradeMethod = "spelled-out ordinal"
	MethodArabicOrdinal GradeMethod = "arabic numeral with ordinal marker"
	MethodArabic        GradeMethod = "arabic numeral"
)

// CourseDescriptor is what the inferencer reads out of a free-text label.
// It is never persisted.
type CourseDescriptor struct {
	Level      Level       `json:"level"`
	Grade      int         `json:"grade"`
	Section    *string     `json:"section,omitempty"`
	Year       *int        `json:"year,omitempty"`
	Confidence int         `json:"confidence"`
	Method     GradeMethod `json:"method"`
}

type CourseRecord struct {
	ID         int     `json:"id"`
	ExternalID *string `json:"externalId,omitempty"`
	Name       string  `json:"name"`
	Level      Level   `json:"level"`
	Grade      int     `json:"grade"`
	Section    *string `json:"section,omitempty"`
	Year       *int    `json:"year,omitempty"`
}

type CourseFilter struct {
	Level *Level
	Grade *int
	Year  *int
}

type Coordinates struct {
	Page   int      `json:"pagina"`
	X      float64  `json:"posicion_x"`
	Y      float64  `json:"posicion_y"`
	Width  *float64 `json:"ancho,omitempty"`
	Height *float64 `json:"alto,omitempty"`
	Region *string  `json:"region,omitempty"`
}

type SupplyItem struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"nombre"`
	Quantity    int          `json:"cantidad"`
	ISBN        *string      `json:"isbn,omitempty"`
	Brand       *string      `json:"marca,omitempty"`
	ToPurchase  bool         `json:"comprar"`
	Price       float64      `json:"precio"`
	Subject     *string      `json:"asignatura,omitempty"`
	Description *string      `json:"descripcion,omitempty"`
	Coordinates *Coordinates `json:"coordenadas,omitempty"`
	Approved    bool         `json:"aprobado"`
	ApprovedAt  *time.Time   `json:"fecha_aprobacion,omitempty"`
}

type MaterialsVersion struct {
	ID             string       `json:"id"`
	UploadedAt     time.Time    `json:"fecha_subida"`
	UpdatedAt      time.Time    `json:"fecha_actualizacion"`
	SourceFileName string       `json:"nombre_archivo"`
	SourcePDFRef   *string      `json:"pdf_ref,omitempty"`
	Items          []SupplyItem `json:"materiales"`
	AIProcessed    bool         `json:"procesado_con_ia"`
}

type ReviewState string

const (
	ReviewDraft    ReviewState = "borrador"
	ReviewReviewed ReviewState = "revisado"
)

// Course is the aggregate root the ledger operates on. Revision is the
// optimistic-concurrency token owned by the store.
type Course struct {
	CourseRecord
	Versions    []MaterialsVersion `json:"versiones_materiales"`
	ReviewState ReviewState        `json:"estado_revision"`
	ReviewedAt  *time.Time         `json:"fecha_revision,omitempty"`
	Revision    int                `json:"-"`
}

// LatestVersion returns the last appended version, or nil when the ledger is empty.
func (c Course) LatestVersion() *MaterialsVersion {
	if len(c.Versions) == 0 {
		return nil
	}
	return &c.Versions[len(c.Versions)-1]
}

// ItemRef points at an item of the latest version: by ID when set, otherwise
// by the (Name, Index) pair.
type ItemRef struct {
	ID    string
	Name  string
	Index int
}

// RawItem is the loosely typed output of an item extractor.
type RawItem struct {
	Quantity    *float64 `json:"cantidad"`
	Name        string   `json:"nombre"`
	ISBN        *string  `json:"isbn,omitempty"`
	Brand       *string  `json:"marca,omitempty"`
	ToPurchase  *bool    `json:"comprar,omitempty"`
	Price       *float64 `json:"precio,omitempty"`
	Subject     *string  `json:"asignatura,omitempty"`
	Description *string  `json:"descripcion,omitempty"`
	RawLine     string   `json:"-"`
}

type TextRun struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

type PageText struct {
	PageNumber int
	PageWidth  float64
	PageHeight float64
	TextRuns   []TextRun
}

type UploadStatus string

const (
	UploadApplied      UploadStatus = "applied"
	UploadNeedsConfirm UploadStatus = "needs_confirmation"
	UploadManualReview UploadStatus = "manual_review"
	UploadFailed       UploadStatus = "failed"
)

type UploadRow struct {
	ID           int
	FileName     string
	PDFRef       string
	Status       UploadStatus
	Reason       string
	CourseID     *int
	VersionID    *string
	MatchScore   *int
	MatchBand    *string
	Method       *string
	Confidence   *int
	ItemCount    int
	LocatedCount int
	EmailID      *int
	CreatedAt    string
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
