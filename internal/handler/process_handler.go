package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/newsjockey/internal/pipeline"
)

// Processor はログインユーザーのパイプラインを1回実行する。
type Processor interface {
	ProcessForOwner(ctx context.Context, ownerID string) *pipeline.Result
}

// ProcessHandler はパイプライン実行のHTTPハンドラー。
type ProcessHandler struct {
	processor Processor
	logger    *slog.Logger
}

// NewProcessHandler はProcessHandlerを生成する。
func NewProcessHandler(processor Processor, logger *slog.Logger) *ProcessHandler {
	return &ProcessHandler{processor: processor, logger: logger}
}

// processResponse はパイプライン実行結果のAPIレスポンス。
type processResponse struct {
	Success bool             `json:"success"`
	Outcome pipeline.Outcome `json:"outcome"`
	Message string           `json:"message"`
	Stage   pipeline.Stage   `json:"stage,omitempty"`
	Article *articleResponse `json:"article,omitempty"`
}

// ProcessNews はログインユーザーのパイプラインを実行し、結果を返す。
// POST /api/process-news （GETも受け付ける）
func (h *ProcessHandler) ProcessNews(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result := h.processor.ProcessForOwner(r.Context(), userID)

	writeJSON(w, processStatus(result), processResponse{
		Success: result.Succeeded(),
		Outcome: result.Outcome,
		Message: result.Message(),
		Stage:   result.Stage,
		Article: toArticleResponse(result.Article),
	})
}

// processStatus は実行結果をHTTPステータスに変換する。
// 処理済み・フィード未設定・記事なしは情報としての結果なので200を返す。
func processStatus(result *pipeline.Result) int {
	if result.Succeeded() {
		return http.StatusOK
	}
	if result.Stage.IsRepositoryStage() {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
