package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/pkg/models"
)

type ProductHandler struct {
	catalog   *services.CatalogService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewProductHandler(logger *logrus.Logger, catalog *services.CatalogService) *ProductHandler {
	return &ProductHandler{
		catalog:   catalog,
		validator: validator.New(),
		logger:    logger,
	}
}

func (h *ProductHandler) bindFilter(c *gin.Context) (models.ProductFilter, bool) {
	var filter models.ProductFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "Invalid query parameters", err.Error())
		return filter, false
	}
	if err := h.validator.Struct(&filter); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "Invalid query parameters", validationDetails(err))
		return filter, false
	}
	return filter, true
}

func (h *ProductHandler) List(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list products")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load product")
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) Compare(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	comparison, err := h.catalog.CompareSources(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compare sources")
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (h *ProductHandler) Grouped(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}

	groups, err := h.catalog.GroupedProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to group products")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"count":  len(groups),
	})
}

func (h *ProductHandler) Shops(c *gin.Context) {
	shops, err := h.catalog.Shops(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to list shops")
		return
	}
	c.JSON(http.StatusOK, gin.H{"shops": shops})
}

func (h *ProductHandler) Create(c *gin.Context) {
	var req models.CreateProductRequest
	if !bindJSON(c, h.validator, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create product")
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpsertSource adds a shop listing or replaces the one with the same shop name.
func (h *ProductHandler) UpsertSource(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var src models.Source
	if !bindJSON(c, h.validator, &src) {
		return
	}

	product, err := h.catalog.UpsertSource(c.Request.Context(), id, src)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update source")
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) CreateReview(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.CreateReviewRequest
	if !bindJSON(c, h.validator, &req) {
		return
	}

	review, err := h.catalog.CreateReview(c.Request.Context(), id, userID, &req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create review")
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *ProductHandler) ListReviews(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	reviews, err := h.catalog.ListReviews(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list reviews")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"count":   len(reviews),
	})
}
