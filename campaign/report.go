package campaign

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/oracle"
	"github.com/lattice-substrate/linediff/refsim"
)

// ReportSchemaVersion tags failure reports.
const ReportSchemaVersion = "report.v1"

// Report describes the first failure of a campaign. It is written as
// canonical JSON so two runs that fail the same way produce identical bytes
// apart from generated_at_utc.
type Report struct {
	SchemaVersion  string       `json:"schema_version"`
	GeneratedAtUTC string       `json:"generated_at_utc"`
	Seed           uint32       `json:"seed"`
	TestIndex      int          `json:"test_index"`
	Device         string       `json:"device"`
	FailureClass   string       `json:"failure_class"`
	ExitCode       int          `json:"exit_code"`
	Message        string       `json:"message"`
	Row            int          `json:"row"`
	Field          string       `json:"field,omitempty"`
	Want           *uint32      `json:"want,omitempty"`
	Got            *uint32      `json:"got,omitempty"`
	RowsCompared   int          `json:"rows_compared"`
	ReferenceState *StateRecord `json:"reference_state,omitempty"`
	DeviceState    *StateRecord `json:"device_state,omitempty"`
	ProgramSHA256  string       `json:"program_sha256"`
	ProgramXXH64   string       `json:"program_xxh64"`
	ProgramSize    int          `json:"program_size"`
	Header         HeaderRecord `json:"header"`
}

// StateRecord is the JSON form of an interpreter state.
type StateRecord struct {
	Address       uint32 `json:"address"`
	File          uint16 `json:"file"`
	Line          uint16 `json:"line"`
	Column        uint16 `json:"column"`
	IsStmt        bool   `json:"is_stmt"`
	BasicBlock    bool   `json:"basic_block_start"`
	EndSequence   bool   `json:"end_sequence"`
	PrologueEnd   bool   `json:"prologue_end"`
	EpilogueBegin bool   `json:"epilogue_begin"`
	Discriminator uint16 `json:"discriminator"`
	Status        string `json:"status"`
}

// HeaderRecord is the JSON form of a program header.
type HeaderRecord struct {
	Raw           uint32 `json:"raw"`
	DefaultIsStmt bool   `json:"default_is_stmt"`
	LineBase      int8   `json:"line_base"`
	LineRange     uint8  `json:"line_range"`
	OpcodeBase    uint8  `json:"opcode_base"`
}

func stateRecord(s refsim.State) *StateRecord {
	return &StateRecord{
		Address:       s.Address,
		File:          s.File,
		Line:          s.Line,
		Column:        s.Column,
		IsStmt:        s.IsStmt,
		BasicBlock:    s.BasicBlock,
		EndSequence:   s.EndSequence,
		PrologueEnd:   s.PrologueEnd,
		EpilogueBegin: s.EpilogueBegin,
		Discriminator: s.Discriminator,
		Status:        s.Status.String(),
	}
}

// NewReport describes failure on p. res may be nil when the failure happened
// outside a comparison, for example on a broken device link.
func NewReport(p *lnprog.Program, res *oracle.Result, failure *lnerr.Error) *Report {
	encoded := lnprog.Encode(p)
	r := &Report{
		SchemaVersion: ReportSchemaVersion,
		FailureClass:  string(failure.Class),
		ExitCode:      failure.Class.ExitCode(),
		Message:       failure.Error(),
		Row:           failure.Row,
		Field:         failure.Field,
		ProgramSHA256: sha256Hex(encoded),
		ProgramXXH64:  fmt.Sprintf("%016x", p.Fingerprint()),
		ProgramSize:   len(encoded),
		Header: HeaderRecord{
			Raw:           p.Header.Raw(),
			DefaultIsStmt: p.Header.DefaultIsStmt(),
			LineBase:      p.Header.LineBase(),
			LineRange:     p.Header.LineRange(),
			OpcodeBase:    p.Header.OpcodeBase(),
		},
	}
	if res == nil {
		return r
	}
	r.RowsCompared = res.Rows
	r.ReferenceState = stateRecord(res.Ref)
	r.DeviceState = stateRecord(res.Dev)
	if failure.Field != "" {
		if want, ok := oracle.FieldValue(failure.Field, res.Ref); ok {
			r.Want = &want
		}
		if got, ok := oracle.FieldValue(failure.Field, res.Dev); ok {
			r.Got = &got
		}
	}
	return r
}

// Err rebuilds the classified error the report describes.
func (r *Report) Err() *lnerr.Error {
	return &lnerr.Error{
		Class:   lnerr.FailureClass(r.FailureClass),
		Row:     r.Row,
		Field:   r.Field,
		Message: r.Message,
	}
}

// MarshalReport encodes r in canonical JSON followed by a newline.
func MarshalReport(r *Report) ([]byte, error) {
	if r == nil {
		return nil, lnerr.New(lnerr.InternalError, -1, "report is nil")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.InternalError, -1, "marshal report", err)
	}
	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.InternalError, -1, "canonicalize report", err)
	}
	return append(canon, '\n'), nil
}

// WriteReport writes r to path.
func WriteReport(path string, r *Report) error {
	data, err := MarshalReport(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return lnerr.Wrap(lnerr.InternalIO, -1, "write report", err)
	}
	return nil
}

// ParseReport decodes and validates a report. Unknown fields are rejected.
func ParseReport(data []byte) (*Report, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var r Report
	if err := dec.Decode(&r); err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "decode report", err)
	}
	if err := ValidateReport(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadReport reads a report file.
//
//nolint:gosec // report path is explicit operator input.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "read report", err)
	}
	return ParseReport(data)
}

var reportClasses = map[lnerr.FailureClass]bool{
	lnerr.MalformedProgram: true,
	lnerr.FieldMismatch:    true,
	lnerr.DeviceTimeout:    true,
	lnerr.CodecError:       true,
	lnerr.ConfigInvalid:    true,
	lnerr.CLIUsage:         true,
	lnerr.DeviceIO:         true,
	lnerr.InternalIO:       true,
	lnerr.InternalError:    true,
}

// ValidateReport checks the fields a reader relies on.
func ValidateReport(r *Report) error {
	bad := func(msg string) error { return lnerr.New(lnerr.CodecError, -1, "report: "+msg) }
	if r == nil {
		return bad("nil")
	}
	if r.SchemaVersion != ReportSchemaVersion {
		return bad(fmt.Sprintf("unsupported schema_version %q", r.SchemaVersion))
	}
	class := lnerr.FailureClass(r.FailureClass)
	if !reportClasses[class] {
		return bad(fmt.Sprintf("unknown failure_class %q", r.FailureClass))
	}
	if r.ExitCode != class.ExitCode() {
		return bad(fmt.Sprintf("exit_code %d does not match failure_class %s", r.ExitCode, class))
	}
	if class == lnerr.FieldMismatch && (r.Field == "" || r.Want == nil || r.Got == nil) {
		return bad("field mismatch without field, want and got")
	}
	if len(r.ProgramSHA256) != sha256.Size*2 {
		return bad("program_sha256 is required")
	}
	if r.ProgramSize < lnprog.HeaderSize {
		return bad("program_size is smaller than a header")
	}
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
