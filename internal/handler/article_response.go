package handler

import (
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

// articleResponse は処理済み記事のAPIレスポンス。
type articleResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	SourceURL   string    `json:"sourceUrl"`
	Summary     string    `json:"summary"`
	Translation string    `json:"translation"`
	AudioURL    string    `json:"audioUrl"`
	ProcessedAt time.Time `json:"processedAt"`
}

func toArticleResponse(a *model.Article) *articleResponse {
	if a == nil {
		return nil
	}
	return &articleResponse{
		ID:          a.ID,
		Title:       a.Title,
		SourceURL:   a.SourceURL,
		Summary:     a.Summary,
		Translation: a.Translation,
		AudioURL:    a.AudioURL,
		ProcessedAt: a.ProcessedAt,
	}
}
