package server

import (
	"fmt"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
)

// submitRequest is the wire shape of a job submission, per spec.md §6:
// fields common to every source plus a flat bag of source-specific fields
// passed through unchanged as source_params.
type submitRequest struct {
	Source        pipeline.Source   `json:"source"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata"`

	FilePath string `json:"file_path"`

	Ticker   string `json:"ticker"`
	CIK      string `json:"cik"`
	FormType string `json:"form_type"`
	Count    int    `json:"count"`

	URL           string `json:"url"`
	SitemapURL    string `json:"sitemap_url"`
	MaxPages      int    `json:"max_pages"`
	RespectRobots *bool  `json:"respect_robots"`

	APIURL         string            `json:"api_url"`
	Method         string            `json:"method"`
	Auth           string            `json:"auth"`
	APIKey         string            `json:"api_key"`
	APIKeyHeader   string            `json:"api_key_header"`
	BearerToken    string            `json:"bearer_token"`
	BasicUser      string            `json:"basic_user"`
	BasicPass      string            `json:"basic_pass"`
	CustomHeaders  map[string]string `json:"custom_headers"`
	QueryParams    map[string]string `json:"query_params"`
	Body           string            `json:"body"`
	ResponseFormat string            `json:"response_format"`
	DataPath       string            `json:"data_path"`
	XMLItemTag     string            `json:"xml_item_tag"`
	ContentField   string            `json:"content_field"`
	TitleField     string            `json:"title_field"`
	Pagination     string            `json:"pagination"`
	PaginationPath string            `json:"pagination_path"`
	OffsetParam    string            `json:"offset_param"`
	LimitParam     string            `json:"limit_param"`

	ConnectionString string         `json:"connection_string"`
	Query            string         `json:"query"`
	DBQueryParams    map[string]any `json:"db_query_params"`
	ContentColumn    string         `json:"content_column"`
	TitleColumn      string         `json:"title_column"`
	IDColumn         string         `json:"id_column"`
	MaxRows          int            `json:"max_rows"`
	ReadOnly         *bool          `json:"read_only"`
}

// toParams constructs the typed adapter.Params variant for req.Source,
// per spec.md §9's design note: submission-payload parsing runs through a
// typed parser per source before Fetch ever sees it. raw is the original
// decoded JSON body, kept verbatim for the Job record's source_params.
func (req submitRequest) toParams(raw map[string]any) (adapter.Params, error) {
	params := adapter.Params{Raw: raw}

	switch req.Source {
	case pipeline.SourceFileUpload:
		params.FileUpload = &adapter.FileUploadParams{FilePath: req.FilePath}
	case pipeline.SourceSECEdgar:
		params.SECEdgar = &adapter.SECEdgarParams{
			Ticker: req.Ticker, CIK: req.CIK, FormType: req.FormType, Count: req.Count,
		}
	case pipeline.SourceURLScrape:
		params.URLScrape = &adapter.URLScrapeParams{
			URL: req.URL, SitemapURL: req.SitemapURL, MaxPages: req.MaxPages, RespectRobots: req.RespectRobots,
		}
	case pipeline.SourceAPIFetch:
		params.APIFetch = &adapter.APIFetchParams{
			APIURL: req.APIURL, Method: req.Method,
			Auth:         adapter.AuthKind(req.Auth),
			APIKey:       req.APIKey,
			APIKeyHeader: req.APIKeyHeader,
			BearerToken:  req.BearerToken,
			BasicUser:    req.BasicUser,
			BasicPass:    req.BasicPass,
			CustomHeaders: req.CustomHeaders,
			QueryParams:   req.QueryParams,
			Body:          req.Body,
			ResponseFormat: adapter.ResponseFormat(req.ResponseFormat),
			DataPath:       req.DataPath,
			XMLItemTag:     req.XMLItemTag,
			ContentField:   req.ContentField,
			TitleField:     req.TitleField,
			Pagination:     adapter.PaginationKind(req.Pagination),
			PaginationPath: req.PaginationPath,
			OffsetParam:    req.OffsetParam,
			LimitParam:     req.LimitParam,
			MaxPages:       req.MaxPages,
		}
	case pipeline.SourceDBQuery:
		params.DBQuery = &adapter.DBQueryParams{
			ConnectionString: req.ConnectionString,
			Query:            req.Query,
			QueryParams:      req.DBQueryParams,
			ContentColumn:    req.ContentColumn,
			TitleColumn:      req.TitleColumn,
			IDColumn:         req.IDColumn,
			MaxRows:          req.MaxRows,
			ReadOnly:         req.ReadOnly,
		}
	default:
		return adapter.Params{}, fmt.Errorf("unknown source %q", req.Source)
	}

	return params, nil
}
