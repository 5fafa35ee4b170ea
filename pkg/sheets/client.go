package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shpitdev/price-sheet-tracker/pkg/restyutil"
)

const DefaultBaseURL = "https://sheets.googleapis.com/"

// Client is a minimal client for the spreadsheet values endpoints used by this module.
type Client struct {
	http *resty.Client
}

// Spreadsheet is the subset of spreadsheet metadata needed to probe worksheets.
type Spreadsheet struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Sheets        []struct {
		Properties SheetProperties `json:"properties"`
	} `json:"sheets"`
}

type SheetProperties struct {
	SheetID int    `json:"sheetId"`
	Title   string `json:"title"`
}

// ValueRange is a rectangular block of cell values in row-major order.
type ValueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

// Strings renders every cell with its display form; missing trailing cells stay absent.
func (v ValueRange) Strings() [][]string {
	out := make([][]string, len(v.Values))
	for i, row := range v.Values {
		cells := make([]string, len(row))
		for j, c := range row {
			switch t := c.(type) {
			case nil:
			case string:
				cells[j] = t
			default:
				cells[j] = fmt.Sprint(t)
			}
		}
		out[i] = cells
	}
	return out
}

// NewClient constructs a client for the API at baseURL authenticated with a bearer token.
func NewClient(baseURL, token string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(60*time.Second).
		SetHeader("Accept", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		hc.SetAuthToken(token)
	}
	restyutil.InstrumentClient(hc, "pricetracker/sheets")

	return &Client{http: hc}, nil
}

func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://") == "" {
		return "", fmt.Errorf("sheets base URL must include a host (got %q)", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// GetSpreadsheet returns worksheet metadata for the spreadsheet.
func (c *Client) GetSpreadsheet(ctx context.Context, spreadsheetID string) (Spreadsheet, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return Spreadsheet{}, fmt.Errorf("spreadsheet id is required")
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", spreadsheetID).
		SetQueryParam("fields", "spreadsheetId,sheets.properties").
		Get("/v4/spreadsheets/{id}")
	if err != nil {
		return Spreadsheet{}, err
	}
	if !res.IsSuccess() {
		return Spreadsheet{}, newHTTPError("getSpreadsheet", res.StatusCode(), res.Status(), res.Body())
	}

	var out Spreadsheet
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return Spreadsheet{}, fmt.Errorf("parse spreadsheet response: %w", err)
	}
	return out, nil
}

// ProbeWorksheet checks whether the spreadsheet is reachable and has a worksheet named sheet.
//
// Returns:
//   - (true, nil) if the worksheet exists
//   - (false, nil) if the spreadsheet exists but the worksheet does not
//   - (false, err) for non-2xx responses or network errors
func (c *Client) ProbeWorksheet(ctx context.Context, spreadsheetID, sheet string) (bool, error) {
	meta, err := c.GetSpreadsheet(ctx, spreadsheetID)
	if err != nil {
		return false, err
	}
	for _, s := range meta.Sheets {
		if s.Properties.Title == sheet {
			return true, nil
		}
	}
	return false, nil
}

// GetValues reads the cells of an A1 range.
func (c *Client) GetValues(ctx context.Context, spreadsheetID, a1Range string) (ValueRange, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"id":    strings.TrimSpace(spreadsheetID),
			"range": a1Range,
		}).
		SetQueryParam("majorDimension", "ROWS").
		Get("/v4/spreadsheets/{id}/values/{range}")
	if err != nil {
		return ValueRange{}, err
	}
	if !res.IsSuccess() {
		return ValueRange{}, newHTTPError("getValues", res.StatusCode(), res.Status(), res.Body())
	}

	var out ValueRange
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return ValueRange{}, fmt.Errorf("parse values response: %w", err)
	}
	return out, nil
}

// UpdateValues overwrites the cells of an A1 range. Values are interpreted as if
// typed by a user, so "25.00" lands as a number.
func (c *Client) UpdateValues(ctx context.Context, spreadsheetID, a1Range string, values [][]string) error {
	body := ValueRange{Range: a1Range, MajorDimension: "ROWS"}
	for _, row := range values {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		body.Values = append(body.Values, cells)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"id":    strings.TrimSpace(spreadsheetID),
			"range": a1Range,
		}).
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Put("/v4/spreadsheets/{id}/values/{range}")
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return newHTTPError("updateValues", res.StatusCode(), res.Status(), res.Body())
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}
