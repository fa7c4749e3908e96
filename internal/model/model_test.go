package model

import (
	"errors"
	"testing"
	"time"
)

func validRequest() *ClientRequest {
	return &ClientRequest{
		RequestID:      "req-1",
		FirstName:      "Иван",
		LastName:       "Иванов",
		MiddleName:     "Иванович",
		BirthDate:      "1985-03-12",
		BirthPlace:     "Москва",
		DocumentSerial: "1234",
		DocumentNumber: "567890",
		DocumentDate:   "2005-07-01",
	}
}

func TestClientRequestValidate(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(r *ClientRequest)
		expectedError bool
	}{
		{
			name:   "valid_request",
			modify: func(r *ClientRequest) {},
		},
		{
			name:          "empty_request_id",
			modify:        func(r *ClientRequest) { r.RequestID = "" },
			expectedError: true,
		},
		{
			name:          "bad_birth_date",
			modify:        func(r *ClientRequest) { r.BirthDate = "12.03.1985" },
			expectedError: true,
		},
		{
			name:          "bad_document_date",
			modify:        func(r *ClientRequest) { r.DocumentDate = "not-a-date" },
			expectedError: true,
		},
		{
			name:          "empty_birth_date",
			modify:        func(r *ClientRequest) { r.BirthDate = "" },
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.modify(req)

			err := req.Validate()

			if tt.expectedError {
				if err == nil {
					t.Error("expected validation error, but got nil")
					return
				}
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewNalogRequest(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *ClientRequest)
		check  func(t *testing.T, nr *NalogRequest)
	}{
		{
			name:   "document_number_transform",
			modify: func(r *ClientRequest) {},
			check: func(t *testing.T, nr *NalogRequest) {
				if nr.DocNumber != "12 34 567890" {
					t.Errorf("expected doc number '12 34 567890', got %q", nr.DocNumber)
				}
			},
		},
		{
			name:   "short_document_serial",
			modify: func(r *ClientRequest) { r.DocumentSerial = "12" },
			check: func(t *testing.T, nr *NalogRequest) {
				if nr.DocNumber != "12  567890" {
					t.Errorf("expected doc number '12  567890', got %q", nr.DocNumber)
				}
			},
		},
		{
			name:   "date_formats",
			modify: func(r *ClientRequest) {},
			check: func(t *testing.T, nr *NalogRequest) {
				if nr.BirthDate != "12.03.1985" {
					t.Errorf("expected birth date '12.03.1985', got %q", nr.BirthDate)
				}
				if nr.DocDate != "01.07.2005" {
					t.Errorf("expected document date '01.07.2005', got %q", nr.DocDate)
				}
			},
		},
		{
			name:   "missing_patronymic_defaults",
			modify: func(r *ClientRequest) { r.MiddleName = "" },
			check: func(t *testing.T, nr *NalogRequest) {
				if nr.Patronymic != "нет" {
					t.Errorf("expected patronymic 'нет', got %q", nr.Patronymic)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.modify(req)
			tt.check(t, NewNalogRequest(req))
		})
	}
}

func TestNalogRequestFormData(t *testing.T) {
	form := NewNalogRequest(validRequest()).FormData()

	expected := map[string]string{
		"fam":          "Иванов",
		"nam":          "Иван",
		"otch":         "Иванович",
		"bdate":        "12.03.1985",
		"bplace":       "Москва",
		"doctype":      "21",
		"docno":        "12 34 567890",
		"docdt":        "01.07.2005",
		"c":            "innMy",
		"captcha":      "",
		"captchaToken": "",
	}

	for field, value := range expected {
		if got := form.Get(field); got != value {
			t.Errorf("expected form field %s=%q, got %q", field, value, got)
		}
	}
	if len(form) != len(expected) {
		t.Errorf("expected %d form fields, got %d", len(expected), len(form))
	}
}

func TestNewClientRecord(t *testing.T) {
	record := NewClientRecord(validRequest())

	if record.PassportNum != "1234 567890" {
		t.Errorf("expected passport num '1234 567890', got %q", record.PassportNum)
	}
	if record.RequestID != "req-1" {
		t.Errorf("expected request id 'req-1', got %q", record.RequestID)
	}
	if record.ExecutedAt != nil {
		t.Error("expected executed_at to be unset for a fresh record")
	}
	if record.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if record.BirthDate.Format("2006-01-02") != "1985-03-12" {
		t.Errorf("unexpected birth date: %v", record.BirthDate)
	}
}

func TestClientRecordElapsedTime(t *testing.T) {
	record := NewClientRecord(validRequest())
	record.CreatedAt = time.Now().UTC().Add(-2 * time.Second)

	record.SetResult("7700123456", "")

	if record.ExecutedAt == nil {
		t.Fatal("expected executed_at to be set")
	}
	elapsed := record.ElapsedTime()
	if elapsed < 2 || elapsed > 3 {
		t.Errorf("expected elapsed time around 2s, got %f", elapsed)
	}

	// Повторный расчёт фиксируется на executed_at.
	again := record.ElapsedTime()
	if again != elapsed {
		t.Errorf("expected elapsed time to be stable after execution, got %f then %f", elapsed, again)
	}
}
