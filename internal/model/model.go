package model

import (
	"fmt"
	"net/url"
	"time"
)

const (
	wireDateLayout  = "2006-01-02"
	nalogDateLayout = "02.01.2006"

	// Код типа документа "паспорт гражданина РФ" в форме nalog.ru.
	passportDocType = "21"
)

// ValidationError reports a malformed request body. The dispatch loop treats
// it as a terminal failure: the message is answered (when possible) and dropped.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "request body content error: " + e.Detail
}

// ClientRequest is the inbound queue message payload.
type ClientRequest struct {
	RequestID      string `json:"requestId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	MiddleName     string `json:"middleName"`
	BirthDate      string `json:"birthDate"`
	BirthPlace     string `json:"birthPlace"`
	DocumentSerial string `json:"documentSerial"`
	DocumentNumber string `json:"documentNumber"`
	DocumentDate   string `json:"documentDate"`
}

// Validate checks the request against the wire contract: non-empty request id
// and parseable YYYY-MM-DD dates.
func (r *ClientRequest) Validate() error {
	if r.RequestID == "" {
		return &ValidationError{Detail: "requestId must not be empty"}
	}
	if _, err := time.Parse(wireDateLayout, r.BirthDate); err != nil {
		return &ValidationError{Detail: fmt.Sprintf("birthDate %q is not a valid date", r.BirthDate)}
	}
	if _, err := time.Parse(wireDateLayout, r.DocumentDate); err != nil {
		return &ValidationError{Detail: fmt.Sprintf("documentDate %q is not a valid date", r.DocumentDate)}
	}
	return nil
}

// PassportNumber joins the document serial and number into the stored
// passport_num form.
func PassportNumber(serial, number string) string {
	return serial + " " + number
}

// ClientRecord is the persisted resolution attempt.
type ClientRecord struct {
	CreatedAt    time.Time  `bson:"created_at"`
	RequestID    string     `bson:"request_id"`
	FirstName    string     `bson:"first_name"`
	LastName     string     `bson:"last_name"`
	MiddleName   string     `bson:"middle_name"`
	BirthDate    time.Time  `bson:"birth_date"`
	BirthPlace   string     `bson:"birth_place"`
	PassportNum  string     `bson:"passport_num"`
	DocumentDate time.Time  `bson:"document_date"`
	ExecutedAt   *time.Time `bson:"executed_at"`
	INN          string     `bson:"inn"`
	Error        string     `bson:"error"`
}

// NewClientRecord builds a fresh record from a validated request.
func NewClientRecord(req *ClientRequest) *ClientRecord {
	birthDate, _ := time.Parse(wireDateLayout, req.BirthDate)
	documentDate, _ := time.Parse(wireDateLayout, req.DocumentDate)
	return &ClientRecord{
		CreatedAt:    time.Now().UTC(),
		RequestID:    req.RequestID,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		MiddleName:   req.MiddleName,
		BirthDate:    birthDate,
		BirthPlace:   req.BirthPlace,
		PassportNum:  PassportNumber(req.DocumentSerial, req.DocumentNumber),
		DocumentDate: documentDate,
	}
}

// SetResult records the outcome of the external call and stamps executed_at.
func (r *ClientRecord) SetResult(inn, errText string) {
	now := time.Now().UTC()
	r.ExecutedAt = &now
	r.INN = inn
	r.Error = errText
}

// ElapsedTime returns the resolution duration in seconds, measured up to
// executed_at, or up to now while the call is still in flight.
func (r *ClientRecord) ElapsedTime() float64 {
	end := time.Now().UTC()
	if r.ExecutedAt != nil {
		end = *r.ExecutedAt
	}
	return end.Sub(r.CreatedAt).Seconds()
}

// NalogRequest carries the fields of the service.nalog.ru lookup form.
type NalogRequest struct {
	LastName   string
	FirstName  string
	Patronymic string
	BirthDate  string
	BirthPlace string
	DocNumber  string
	DocDate    string
}

// NewNalogRequest translates a validated client request into the form the
// nalog.ru endpoint expects: dd.mm.yyyy dates, "SS NN NNNNNN" document number
// and "нет" for a missing patronymic.
func NewNalogRequest(req *ClientRequest) *NalogRequest {
	birthDate, _ := time.Parse(wireDateLayout, req.BirthDate)
	documentDate, _ := time.Parse(wireDateLayout, req.DocumentDate)

	patronymic := req.MiddleName
	if patronymic == "" {
		patronymic = "нет"
	}

	return &NalogRequest{
		LastName:   req.LastName,
		FirstName:  req.FirstName,
		Patronymic: patronymic,
		BirthDate:  birthDate.Format(nalogDateLayout),
		BirthPlace: req.BirthPlace,
		DocNumber:  formatDocNumber(req.DocumentSerial, req.DocumentNumber),
		DocDate:    documentDate.Format(nalogDateLayout),
	}
}

// FullName is used for log context only.
func (r *NalogRequest) FullName() string {
	return r.LastName + " " + r.FirstName + " " + r.Patronymic
}

// FormData encodes the request as the endpoint's POST form.
func (r *NalogRequest) FormData() url.Values {
	return url.Values{
		"fam":          {r.LastName},
		"nam":          {r.FirstName},
		"otch":         {r.Patronymic},
		"bdate":        {r.BirthDate},
		"bplace":       {r.BirthPlace},
		"doctype":      {passportDocType},
		"docno":        {r.DocNumber},
		"docdt":        {r.DocDate},
		"c":            {"innMy"},
		"captcha":      {""},
		"captchaToken": {""},
	}
}

func formatDocNumber(serial, number string) string {
	return slice(serial, 0, 2) + " " + slice(serial, 2, 4) + " " + number
}

// slice clamps the bounds instead of panicking on short serials.
func slice(s string, from, to int) string {
	if from > len(s) {
		from = len(s)
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// ResultDTO is the reply published to the requester.
type ResultDTO struct {
	RequestID   string  `json:"request_id"`
	INN         string  `json:"inn"`
	Details     string  `json:"details"`
	Cached      bool    `json:"cached"`
	ElapsedTime float64 `json:"elapsed_time"`
}

// ErrorReply is the bare reply shape used for unexpected handler faults.
type ErrorReply struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}
