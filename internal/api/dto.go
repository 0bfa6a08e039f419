package api

import (
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
)

// ResourcesResponse lists the declared resources.
type ResourcesResponse struct {
	Resources []string `json:"resources" validate:"required"`
}

// CreateBatchResponse wraps the documents created from an array body.
type CreateBatchResponse struct {
	Items []models.Document `json:"_items" validate:"required"`
}

// DeleteAllResponse reports how many documents a collection delete removed.
type DeleteAllResponse struct {
	Deleted int64 `json:"deleted" example:"42"`
}

// AssetsResponse lists the mirrored files of an entity.
type AssetsResponse struct {
	Assets []storage.FileInfo `json:"assets" validate:"required"`
}
