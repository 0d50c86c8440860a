package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/model"
)

// maxResponseBytes は中継するレスポンス本文の上限。
const maxResponseBytes = 10 << 20

// errResponseTooLarge は外部APIのレスポンスが上限を超えた場合に返される。
var errResponseTooLarge = errors.New("upstream response too large")

// get は連携先APIにGETリクエストを送り、JSON本文をそのまま返す。
// リトライもトークン更新も行わない。失敗はすべてUpstreamErrorとして返す。
func (s *Service) get(ctx context.Context, p *Provider, accessToken, path string, query url.Values) (json.RawMessage, error) {
	reqURL := strings.TrimRight(p.APIBaseURL, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "InvisiBilled/1.0")

	start := s.now()
	body, status, err := s.do(req)
	elapsed := s.now().Sub(start)

	if err != nil {
		s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeFailure, elapsed)
		s.logger.Error("upstream request failed",
			slog.String("integration", string(p.Name)),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError(p.Name)
	}
	if status < 200 || status > 299 {
		s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeFailure, elapsed)
		s.logger.Error("upstream returned error status",
			slog.String("integration", string(p.Name)),
			slog.String("path", path),
			slog.Int("http_status", status),
			slog.String("body", truncate(body, maxErrorBodyBytes)),
		)
		return nil, model.NewUpstreamError(p.Name)
	}
	if !json.Valid(body) {
		s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeFailure, elapsed)
		s.logger.Error("upstream returned invalid JSON",
			slog.String("integration", string(p.Name)),
			slog.String("path", path),
			slog.String("body", truncate(body, maxErrorBodyBytes)),
		)
		return nil, model.NewUpstreamError(p.Name)
	}

	s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeSuccess, elapsed)
	return json.RawMessage(body), nil
}

func (s *Service) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return body, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, resp.StatusCode, errResponseTooLarge
	}
	return body, resp.StatusCode, nil
}

// resolveWorkspace はトークン交換直後に既定のワークスペースIDを取得する。
func (s *Service) resolveWorkspace(ctx context.Context, p *Provider, accessToken string) (string, error) {
	switch p.Name {
	case model.IntegrationToggl:
		raw, err := s.get(ctx, p, accessToken, "/me", nil)
		if err != nil {
			return "", err
		}
		var me struct {
			DefaultWorkspaceID json.Number `json:"default_workspace_id"`
		}
		if err := json.Unmarshal(raw, &me); err != nil {
			s.logger.Error("failed to parse toggl profile", slog.String("error", err.Error()))
			return "", model.NewUpstreamError(p.Name)
		}
		return me.DefaultWorkspaceID.String(), nil

	case model.IntegrationAsana:
		raw, err := s.get(ctx, p, accessToken, "/workspaces", nil)
		if err != nil {
			return "", err
		}
		var resp struct {
			Data []struct {
				GID string `json:"gid"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			s.logger.Error("failed to parse asana workspaces", slog.String("error", err.Error()))
			return "", model.NewUpstreamError(p.Name)
		}
		if len(resp.Data) == 0 {
			return "", nil
		}
		return resp.Data[0].GID, nil
	}
	return "", nil
}

// --- Toggl Track ---

// TogglTimeEntries は期間内の作業時間の記録を返す。日付はYYYY-MM-DDまたはRFC3339。
func (s *Service) TogglTimeEntries(ctx context.Context, userID, startDate, endDate string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationToggl)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if startDate != "" {
		q.Set("start_date", startDate)
	}
	if endDate != "" {
		q.Set("end_date", endDate)
	}
	return s.get(ctx, p, conn.AccessToken, "/me/time_entries", q)
}

// TogglProjects は接続済みワークスペースのプロジェクト一覧を返す。
// ワークスペースが未解決の場合はユーザーのプロジェクト一覧を返す。
func (s *Service) TogglProjects(ctx context.Context, userID string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationToggl)
	if err != nil {
		return nil, err
	}
	if conn.WorkspaceID == "" {
		return s.get(ctx, p, conn.AccessToken, "/me/projects", nil)
	}
	if _, err := strconv.ParseInt(conn.WorkspaceID, 10, 64); err != nil {
		return nil, fmt.Errorf("不正なワークスペースIDです: %q", conn.WorkspaceID)
	}
	return s.get(ctx, p, conn.AccessToken, "/workspaces/"+conn.WorkspaceID+"/projects", nil)
}

// --- Asana ---

// AsanaWorkspaces はユーザーが参加しているワークスペース一覧を返す。
func (s *Service) AsanaWorkspaces(ctx context.Context, userID string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationAsana)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, p, conn.AccessToken, "/workspaces", nil)
}

// AsanaTasks はプロジェクトのタスク一覧を返す。
// projectが空の場合は接続済みワークスペースで自分に割り当てられたタスクを返す。
func (s *Service) AsanaTasks(ctx context.Context, userID, project string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationAsana)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	switch {
	case project != "":
		q.Set("project", project)
	case conn.WorkspaceID != "":
		q.Set("workspace", conn.WorkspaceID)
		q.Set("assignee", "me")
	default:
		return nil, model.NewValidationError(map[string]string{"project": "is required"})
	}
	q.Set("opt_fields", "name,completed,due_on,assignee.name,projects.name")
	return s.get(ctx, p, conn.AccessToken, "/tasks", q)
}

// --- QuickBooks Online ---

// QuickBooksCompany は接続済み会社の基本情報を返す。
func (s *Service) QuickBooksCompany(ctx context.Context, userID string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationQuickBooks)
	if err != nil {
		return nil, err
	}
	realm := url.PathEscape(conn.RealmID)
	return s.get(ctx, p, conn.AccessToken, "/company/"+realm+"/companyinfo/"+realm, nil)
}

// QuickBooksInvoices は接続済み会社の請求書一覧を返す。
func (s *Service) QuickBooksInvoices(ctx context.Context, userID string) (json.RawMessage, error) {
	p, conn, err := s.connection(ctx, userID, model.IntegrationQuickBooks)
	if err != nil {
		return nil, err
	}
	q := url.Values{"query": {"select * from Invoice maxresults 100"}}
	return s.get(ctx, p, conn.AccessToken, "/company/"+url.PathEscape(conn.RealmID)+"/query", q)
}
