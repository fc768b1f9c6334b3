package okx

import (
	"exchange_core/internal/models"

	"github.com/pkg/errors"
)

// APIError: ответ OKX с ненулевым кодом.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return "okx error " + e.Code + ": " + e.Msg
}

// Unwrap сводит код OKX к общим ошибкам модели.
func (e *APIError) Unwrap() error { return ClassifyCode(e.Code) }

// ClassifyCode: коды REST и WebSocket OKX -> сентинелы models. nil для неизвестных кодов.
func ClassifyCode(code string) error {
	switch code {
	case "51008", "51119", "51131":
		return models.ErrInsufficientFunds
	case "50100", "50101", "50102", "50103", "50104", "50105", "50111", "50113", "50114",
		"60005", "60009", "60024":
		return models.ErrAuthentication
	case "51000", "51006", "51020", "51121", "51137", "51138", "60011", "60012", "60013":
		return models.ErrInvalidOrder
	case "51400", "51401", "51603":
		return models.ErrOrderNotFound
	case "51001", "60018":
		return models.ErrNotSupported
	case "50001", "50011", "50013", "50026":
		return models.ErrNetwork
	case "50004":
		return models.ErrRequestTimeout
	}
	return nil
}

// NewAPIError оборачивает ответ OKX; errors.Is(err, models.ErrX) работает через Unwrap.
func NewAPIError(code, msg string) error {
	return errors.WithStack(&APIError{Code: code, Msg: msg})
}
