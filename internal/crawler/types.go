package crawler

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueClosed is returned by queues once they have been shut down.
var ErrQueueClosed = errors.New("queue closed")

// AuditStatus is the publication state reported for a tally sheet.
type AuditStatus string

// Audit status values persisted with each record.
const (
	AuditPublished    AuditStatus = "Publicada"
	AuditNotPublished AuditStatus = "No Publicada"
)

// GeoPath locates a station inside the department/municipality/zone/center hierarchy.
// It is built top-down by the navigator and never mutated afterwards.
type GeoPath struct {
	DepartmentCode   string
	DepartmentName   string
	MunicipalityCode string
	MunicipalityName string
	ZoneCode         string
	ZoneName         string
	CenterCode       string
	CenterName       string
}

// WorkItem is one polling station (JRV) waiting to be assembled into a Record.
type WorkItem struct {
	StationID   int64
	DocumentURL string
	// Raw keeps the discovery payload as returned by the stations endpoint.
	Raw  json.RawMessage
	Path GeoPath
}

// Record is the canonical persisted artifact for one polling station.
// JSON tags match the payload stored by earlier runs so rows stay interchangeable.
type Record struct {
	StationID  int64             `json:"id_jrv"`
	Timestamps Timestamps        `json:"timestamps"`
	Geography  Geography         `json:"geografia"`
	Audit      Audit             `json:"auditoria"`
	Stats      Statistics        `json:"estadisticas"`
	Candidates []CandidateResult `json:"detalle_resultados"`
	Documents  Documents         `json:"documentos"`
}

// Timestamps records when the data was extracted and the server cutoff it reflects.
type Timestamps struct {
	ExtractedAt time.Time `json:"extraccion_local"`
	// ServerCutoff is passed through verbatim; null when the server omits it.
	ServerCutoff json.RawMessage `json:"corte_servidor"`
}

// Geography is the denormalized GeoPath.
type Geography struct {
	DepartmentCode   string `json:"cod_depto"`
	DepartmentName   string `json:"nom_depto"`
	MunicipalityCode string `json:"cod_muni"`
	MunicipalityName string `json:"nom_muni"`
	ZoneCode         string `json:"cod_zona"`
	ZoneName         string `json:"nom_zona"`
	CenterCode       string `json:"cod_centro"`
	CenterName       string `json:"nom_centro"`
}

// Audit carries the validity summary counters for a tally sheet.
type Audit struct {
	Status                    AuditStatus `json:"estado_global"`
	Correct                   int64       `json:"es_correcta"`
	Inconsistent              int64       `json:"tiene_inconsistencias"`
	InVerification            int64       `json:"en_verificacion"`
	PendingVisualVerification int64       `json:"pend_verif_visual"`
	Waiting                   int64       `json:"en_espera"`
}

// Statistics holds census/turnout figures and the computed vote totals.
type Statistics struct {
	Census         int64   `json:"censo_mesa"`
	Signatures     int64   `json:"total_firmas"`
	TurnoutPercent float64 `json:"participacion_pct"`
	ValidVotes     int64   `json:"votos_validos_calc"`
	BlankVotes     int64   `json:"votos_blancos"`
	NullVotes      int64   `json:"votos_nulos"`
	TotalVotes     int64   `json:"total_votos_calculados"`
}

// CandidateResult is one line of the results table.
type CandidateResult struct {
	PartyID       string      `json:"id_partido_string"`
	PartyIDInt    int64       `json:"id_partido_int"`
	CandidateID   string      `json:"id_candidato"`
	CandidateName string      `json:"nombre_candidato"`
	PartyName     string      `json:"nombre_partido"`
	Votes         int64       `json:"votos"`
	ColorHex      string      `json:"color_hex"`
	Images        LocalImages `json:"imgs_locales"`
}

// LocalImages names the logo files stored for a candidate line.
type LocalImages struct {
	Party     string `json:"partido"`
	Candidate string `json:"candidato"`
}

// Documents describes the scanned tally sheet for the station.
type Documents struct {
	Downloaded bool    `json:"pdf_descargado"`
	LocalName  *string `json:"pdf_nombre_local"`
	SourceURL  *string `json:"url_origen"`
	// TokenizedURL is the signed link exactly as discovered.
	TokenizedURL *string `json:"url_tokenizada"`
}

// RunCounters tracks station outcomes across the navigator and worker pool.
type RunCounters struct {
	Discovered atomic.Int64
	Enqueued   atomic.Int64
	Skipped    atomic.Int64
	Persisted  atomic.Int64
	Dropped    atomic.Int64
}

// CountersSnapshot is a point-in-time copy of RunCounters.
type CountersSnapshot struct {
	Discovered int64 `json:"discovered"`
	Enqueued   int64 `json:"enqueued"`
	Skipped    int64 `json:"skipped"`
	Persisted  int64 `json:"persisted"`
	Dropped    int64 `json:"dropped"`
}

// Snapshot copies the current counter values.
func (c *RunCounters) Snapshot() CountersSnapshot {
	if c == nil {
		return CountersSnapshot{}
	}
	return CountersSnapshot{
		Discovered: c.Discovered.Load(),
		Enqueued:   c.Enqueued.Load(),
		Skipped:    c.Skipped.Load(),
		Persisted:  c.Persisted.Load(),
		Dropped:    c.Dropped.Load(),
	}
}
