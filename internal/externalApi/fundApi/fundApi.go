package fundApi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/externalApi"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/model/fundApiModel"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	jsonpPrefix = "jsonpgz("
	jsonpSuffix = ");"
	dateLayout  = "2006-01-02"
	navPageSize = 49 // provider hard limit per page
)

type FundApi struct {
	client *resty.Client
	cfg    *config.Config
}

func New(cfg *config.Config) *FundApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout)
	return &FundApi{client: client, cfg: cfg}
}

func (a *FundApi) FetchEstimate(ctx context.Context, code string) (model.FundEstimate, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundApi.FetchEstimate"

	slog.Debug("FetchEstimate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code))

	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("code", code).
		Get(a.cfg.API.FundApi.EstimateUrl)
	if err != nil {
		slog.Error("error while dialing fund api", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.FundEstimate{}, externalApi.ErrUnavailable
	}

	if resp.StatusCode() == 404 {
		return model.FundEstimate{}, externalApi.ErrNotFound
	}

	estimate, err := a.parseRawEstimate(resp.Body())
	if err != nil {
		slog.Error("can't parse estimate response", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.FundEstimate{}, err
	}

	slog.Debug("FetchEstimate completed", slog.String("rqID", rqID), slog.String("op", op))

	return estimate, nil
}

func (a *FundApi) SearchFunds(ctx context.Context, query string) ([]model.FundSearchResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundApi.SearchFunds"

	slog.Debug("SearchFunds start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{"m": "1", "key": query}).
		Get(a.cfg.API.FundApi.SearchUrl)
	if err != nil {
		slog.Error("error while dialing fund api", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, externalApi.ErrUnavailable
	}

	rawSearch := fundApiModel.RawSearchResponse{}
	err = json.Unmarshal(resp.Body(), &rawSearch)
	if err != nil {
		slog.Error("can't unmarshal response into fundApiModel.RawSearchResponse", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	res := make([]model.FundSearchResult, 0, len(rawSearch.Datas))
	for _, item := range rawSearch.Datas {
		res = append(res, model.FundSearchResult{
			Code:     item.Code,
			Name:     item.Name,
			Category: item.Category,
		})
	}

	slog.Debug("SearchFunds completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("results", len(res)))

	return res, nil
}

func (a *FundApi) FetchNavHistory(ctx context.Context, code string, from, to time.Time) ([]model.NavPoint, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundApi.FetchNavHistory"

	slog.Debug("FetchNavHistory start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.String("code", code),
		slog.String("from", from.Format(dateLayout)),
		slog.String("to", to.Format(dateLayout)),
	)

	points := make([]model.NavPoint, 0)
	page := 1
	for {
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"fundCode":  code,
				"startDate": from.Format(dateLayout),
				"endDate":   to.Format(dateLayout),
				"pageIndex": fmt.Sprint(page),
				"pageSize":  fmt.Sprint(navPageSize),
			}).
			Get(a.cfg.API.FundApi.NavUrl)
		if err != nil {
			slog.Error("error while dialing fund api", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return nil, externalApi.ErrUnavailable
		}

		rawNav := fundApiModel.RawNavResponse{}
		err = json.Unmarshal(resp.Body(), &rawNav)
		if err != nil {
			slog.Error("can't unmarshal response into fundApiModel.RawNavResponse", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return nil, err
		}

		pagePoints, err := a.parseRawNavItems(rawNav.Data.NavList)
		if err != nil {
			slog.Error("can't parse nav items", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return nil, err
		}

		points = append(points, pagePoints...)

		if len(points) >= rawNav.TotalCount || len(rawNav.Data.NavList) == 0 {
			break
		}
		page++
	}

	// provider returns newest first
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	slog.Debug("FetchNavHistory completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("points", len(points)))

	return points, nil
}

func (a *FundApi) parseRawEstimate(body []byte) (model.FundEstimate, error) {
	payload := strings.TrimSpace(string(body))
	if payload == "" {
		return model.FundEstimate{}, externalApi.ErrNotFound
	}

	if !strings.HasPrefix(payload, jsonpPrefix) || !strings.HasSuffix(payload, jsonpSuffix) {
		return model.FundEstimate{}, errors.New("unexpected estimate payload format")
	}
	payload = strings.TrimSuffix(strings.TrimPrefix(payload, jsonpPrefix), jsonpSuffix)

	raw := fundApiModel.RawEstimate{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return model.FundEstimate{}, fmt.Errorf("can't unmarshal estimate payload: %w", err)
	}

	nav, err := decimal.NewFromString(raw.Estimate)
	if err != nil {
		return model.FundEstimate{}, fmt.Errorf("invalid estimate value %q: %w", raw.Estimate, err)
	}

	prevNav, err := decimal.NewFromString(raw.Nav)
	if err != nil {
		return model.FundEstimate{}, fmt.Errorf("invalid nav value %q: %w", raw.Nav, err)
	}

	changePct, err := decimal.NewFromString(raw.EstimatePct)
	if err != nil {
		return model.FundEstimate{}, fmt.Errorf("invalid change percent value %q: %w", raw.EstimatePct, err)
	}

	date, err := time.Parse("2006-01-02 15:04", raw.EstimateTime)
	if err != nil {
		return model.FundEstimate{}, fmt.Errorf("invalid estimate time %q: %w", raw.EstimateTime, err)
	}

	return model.FundEstimate{
		Code:          raw.FundCode,
		Name:          raw.Name,
		Nav:           nav,
		Change:        nav.Sub(prevNav),
		ChangePercent: changePct,
		Date:          date,
	}, nil
}

func (a *FundApi) parseRawNavItems(items []fundApiModel.RawNavItem) ([]model.NavPoint, error) {
	points := make([]model.NavPoint, 0, len(items))
	for _, item := range items {
		if item.Nav == "" { // nav not published yet for that date
			continue
		}

		nav, err := decimal.NewFromString(item.Nav)
		if err != nil {
			return nil, fmt.Errorf("invalid nav value %q: %w", item.Nav, err)
		}

		date, err := time.Parse(dateLayout, item.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid nav date %q: %w", item.Date, err)
		}

		points = append(points, model.NavPoint{Date: date, Nav: nav})
	}
	return points, nil
}
