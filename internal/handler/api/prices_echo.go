package api

import (
	"context"
	"errors"
	"net/http"

	models "SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/ipfs"
	"SignalFeed/internal/service/registry"
	"SignalFeed/internal/usecase"
	xhttp "SignalFeed/pkg/http"
	xlogger "SignalFeed/pkg/logger"
	"SignalFeed/pkg/util"

	"github.com/labstack/echo/v4"
)

// PriceAPI is the use case surface served over HTTP.
type PriceAPI interface {
	GetPrices(ctx context.Context, ids []string) usecase.PriceComputation
	UpdateRegistry(ctx context.Context, hash, version string) (*registry.Snapshot, error)
	SetActiveSignalIDs(ctx context.Context, ids []string) error
	ActiveSignalIDs() []string
	Info() models.ServiceInfo
}

// PricesEchoHandler serves the price and registry endpoints.
type PricesEchoHandler struct {
	logger *xlogger.Logger
	svc    PriceAPI
}

func NewPricesEchoHandler(logger *xlogger.Logger, svc PriceAPI) *PricesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PricesEchoHandler{logger: logger, svc: svc}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/prices", h.GetPrices)
	g.POST("/registry", h.UpdateRegistry)
	g.PUT("/signals/active", h.SetActiveSignals)
	g.GET("/info", h.Info)
}

func (h *PricesEchoHandler) GetPrices(c echo.Context) error {
	req := &models.GetPricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ids := util.SplitCSV(req.SignalIDs)
	if len(ids) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("signal_ids must name at least one signal").WithParam("field", "signal_ids"))
	}

	res := h.svc.GetPrices(c.Request().Context(), ids)
	views := make([]models.PriceView, 0, len(res.Prices))
	for _, p := range res.Prices {
		views = append(views, models.NewPriceView(p))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, models.PricesResponse{UUID: res.ComputationID, Prices: views})
}

func (h *PricesEchoHandler) UpdateRegistry(c echo.Context) error {
	req := &models.UpdateRegistryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.svc.UpdateRegistry(c.Request().Context(), req.IPFSHash, req.Version)
	if err != nil {
		h.logger.Warn("update registry rejected",
			xlogger.String("ipfs_hash", req.IPFSHash),
			xlogger.String("version", req.Version),
			xlogger.Error(err),
		)
		return xhttp.AppErrorResponse(c, registryError(err))
	}
	return xhttp.SuccessResponse(c, models.RegistryView{
		IPFSHash: snap.IPFSHash,
		Version:  snap.Version,
		Signals:  snap.Len(),
		LoadedAt: snap.LoadedAt,
	})
}

func (h *PricesEchoHandler) SetActiveSignals(c echo.Context) error {
	req := &models.SetActiveSignalIDsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.svc.SetActiveSignalIDs(c.Request().Context(), req.SignalIDs); err != nil {
		h.logger.Error("set active signals error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not update active signals").WithError(err))
	}
	return xhttp.SuccessResponse(c, models.ActiveSignalsView{SignalIDs: h.svc.ActiveSignalIDs()})
}

func (h *PricesEchoHandler) Info(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Info())
}

// registryError maps a failed registry update onto an HTTP error.
func registryError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, ipfs.ErrNotFound):
		return xhttp.NotFoundError("registry document not found").WithError(err)
	case errors.Is(err, ipfs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return xhttp.GatewayTimeoutError("registry fetch timed out").WithError(err)
	case errors.Is(err, registry.ErrUnsupportedVersion):
		return xhttp.NewAppError("ERR_UNSUPPORTED_VERSION", "version", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, registry.ErrAggregationCycle),
		errors.Is(err, registry.ErrUnknownSignal),
		errors.Is(err, registry.ErrInvalidDefinition),
		errors.Is(err, registry.ErrMalformedDocument),
		errors.Is(err, ipfs.ErrMalformed):
		return xhttp.NewAppError("ERR_INVALID_REGISTRY", "ipfs_hash", err.Error(), http.StatusBadRequest).WithError(err)
	default:
		return xhttp.InternalError("registry update failed").WithError(err)
	}
}
