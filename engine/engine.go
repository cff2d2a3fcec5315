// Package engine implements the per-pair trailing-position state machine:
// fill ingestion with merge-or-create, armed/active ticks driven by
// (price, ATR) samples, and close-order submission behind the
// inventory-allocation guard.
package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/exchange"
	"github.com/jAjiz/BoTC/logger"
	"github.com/jAjiz/BoTC/metrics"
	"github.com/jAjiz/BoTC/store"
	"github.com/jAjiz/BoTC/strategy"
	"github.com/jAjiz/BoTC/types"
)

// ATR drift band: a stored ATR snapshot is recalibrated when the fresh
// sample lands outside [0.8*ref, 1.2*ref].
var (
	bandLow  = decimal.RequireFromString("0.8")
	bandHigh = decimal.RequireFromString("1.2")

	// mergeProximity is the maximum entry-price distance, as a fraction of
	// the existing entry, for a fill to merge into an armed sibling.
	mergeProximity = decimal.RequireFromString("0.01")

	hundred = decimal.NewFromInt(100)
)

// Engine advances trailing positions. It is driven single-threaded by the
// session scheduler; nothing here is safe for concurrent mutation.
type Engine struct {
	exch     exchange.Exchange
	store    *store.Store
	strat    strategy.Strategy            // authors new positions (configured mode)
	byMode   map[string]strategy.Strategy // dispatch for existing positions
	pairs    map[string]types.PairInfo
	minAlloc map[string]decimal.Decimal
	log      logger.Logger
	notify   logger.Notifier
}

// New wires an engine. The configured mode authors new positions; existing
// positions keep dispatching to the strategy frozen on them at creation.
func New(
	exch exchange.Exchange,
	st *store.Store,
	mode string,
	params map[string]config.PairParams,
	pairs map[string]types.PairInfo,
	minAlloc map[string]decimal.Decimal,
	log logger.Logger,
	notify logger.Notifier,
) (*Engine, error) {
	strat, err := strategy.ForMode(mode, params)
	if err != nil {
		return nil, err
	}
	byMode := map[string]strategy.Strategy{
		config.ModeMultipliers: strategy.NewMultipliers(params),
		config.ModeRebuy:       strategy.NewRebuy(params),
	}
	if notify == nil {
		notify = logger.NopNotifier{}
	}
	return &Engine{
		exch:     exch,
		store:    st,
		strat:    strat,
		byMode:   byMode,
		pairs:    pairs,
		minAlloc: minAlloc,
		log:      log,
		notify:   notify,
	}, nil
}

// forMode returns the strategy a position was authored with, falling back
// to the configured one for unknown modes in a hand-edited state file.
func (e *Engine) forMode(mode string) strategy.Strategy {
	if s, ok := e.byMode[mode]; ok {
		return s
	}
	return e.strat
}

// IngestFills converts newly closed exchange fills for one pair into armed
// trailing positions, merging into a compatible armed sibling when one
// exists. Already-processed fills are skipped, so ingestion is idempotent.
func (e *Engine) IngestFills(pair string, pairState types.PairState, fills map[string]types.Fill, currentATR *decimal.Decimal) {
	for _, id := range sortedFillIDs(fills) {
		fill := fills[id]
		if fill.Pair != pair || !fill.Side.Valid() {
			continue
		}
		if store.IsProcessed(id, pairState) {
			continue
		}
		e.log.Info("processing fill", logger.String("pair", pair), logger.String("order", id))

		newSide, atr, activation := e.strat.OnFill(fill.Side, fill.Price, currentATR, pair)

		if siblingID, sibling := e.findMergeTarget(pairState, newSide, fill.Price); sibling != nil {
			e.merge(sibling, fill, id)
			e.notify.Notify(fmt.Sprintf("🔀[MERGE] %s: unified order %s into position %s, activation at %s",
				pair, id, siblingID, display(sibling.ActivationPrice)))
			continue
		}

		pairState[id] = &types.Position{
			Mode:            e.strat.Name(),
			CreatedTime:     types.NowString(),
			OpeningOrder:    []string{id},
			Side:            newSide,
			EntryPrice:      fill.Price,
			Volume:          fill.Volume,
			Cost:            fill.Cost,
			ActivationATR:   atr,
			ActivationPrice: activation,
		}
		e.notify.Notify(fmt.Sprintf("🆕[CREATE] %s: new trailing position %s for %s order, activation at %s",
			pair, id, strings.ToUpper(string(newSide)), display(activation)))
	}
}

// findMergeTarget looks for an armed position with the same mode and side
// whose entry price is within the merge proximity of the fill price.
func (e *Engine) findMergeTarget(pairState types.PairState, side types.Side, fillPrice decimal.Decimal) (string, *types.Position) {
	for _, id := range sortedPositionIDs(pairState) {
		pos := pairState[id]
		if pos.Mode != e.strat.Name() || pos.Side != side || pos.Active() {
			continue
		}
		diff := pos.EntryPrice.Sub(fillPrice).Abs().Div(pos.EntryPrice)
		if diff.LessThanOrEqual(mergeProximity) {
			return id, pos
		}
	}
	return "", nil
}

// merge aggregates a fill into an existing armed position. Entry and
// activation prices stay untouched; the accounting rule is per side: sell
// aggregates volume and re-derives cost at entry, buy aggregates cost and
// re-derives volume at entry.
func (e *Engine) merge(pos *types.Position, fill types.Fill, fillID string) {
	if pos.Side == types.Sell {
		pos.Volume = pos.Volume.Add(fill.Volume)
		pos.Cost = pos.Volume.Mul(pos.EntryPrice)
	} else {
		pos.Cost = pos.Cost.Add(fill.Cost)
		pos.Volume = pos.Cost.Div(pos.EntryPrice)
	}
	pos.OpeningOrder = append(pos.OpeningOrder, fillID)
}

// TickPair advances every position of one pair against a single
// (price, ATR) sample. Order within a tick is part of the contract:
// recalibration first, then the stop check, then the trailing update.
func (e *Engine) TickPair(pair string, pairState types.PairState, price decimal.Decimal, currentATR *decimal.Decimal, balance map[string]decimal.Decimal) {
	for _, id := range sortedPositionIDs(pairState) {
		pos, ok := pairState[id]
		if !ok {
			continue
		}
		strat := e.forMode(pos.Mode)
		atrNow := strat.ATRValue(pos.EntryPrice, currentATR, pair)

		if !pos.Active() {
			e.tickArmed(pair, id, pos, price, atrNow, strat)
			continue
		}
		e.tickActive(pair, pairState, id, pos, price, atrNow, balance, strat)
	}
}

// tickArmed recalibrates the activation on ATR drift and transitions the
// position to Active when the market crosses the activation price.
func (e *Engine) tickArmed(pair, id string, pos *types.Position, price, atrNow decimal.Decimal, strat strategy.Strategy) {
	if outsideBand(atrNow, pos.ActivationATR) {
		dist := strat.ActivationDistance(pos.Side, atrNow, pos.EntryPrice, pair)
		if pos.Side == types.Sell {
			pos.ActivationPrice = pos.EntryPrice.Add(dist)
		} else {
			pos.ActivationPrice = pos.EntryPrice.Sub(dist)
		}
		pos.ActivationATR = atrNow
		e.log.Info("recalibrated activation price",
			logger.String("pair", pair), logger.String("position", id),
			logger.String("activation", display(pos.ActivationPrice)))
	}

	crossed := (pos.Side == types.Sell && price.GreaterThanOrEqual(pos.ActivationPrice)) ||
		(pos.Side == types.Buy && price.LessThanOrEqual(pos.ActivationPrice))
	if !crossed {
		return
	}

	pos.ActivationTime = types.NowString()
	pos.StopATR = types.Ptr(pos.ActivationATR)
	pos.TrailingPrice = types.Ptr(price)
	stop := strat.StopPrice(pos.Side, pos.EntryPrice, price, *pos.StopATR, pair)
	pos.StopPrice = types.Ptr(stop)

	e.notify.Notify(fmt.Sprintf("⚡[ACTIVE] %s: activation price %s reached for position %s",
		pair, display(pos.ActivationPrice), id))
}

// tickActive recalibrates the stop on ATR drift, fires the close when the
// market crosses the stop, and trails on favorable moves. The stop only
// ever moves in the position's favor.
func (e *Engine) tickActive(pair string, pairState types.PairState, id string, pos *types.Position, price, atrNow decimal.Decimal, balance map[string]decimal.Decimal, strat strategy.Strategy) {
	if outsideBand(atrNow, *pos.StopATR) {
		candidate := strat.StopPrice(pos.Side, pos.EntryPrice, *pos.TrailingPrice, atrNow, pair)
		if favorable(pos.Side, candidate, *pos.StopPrice) {
			pos.StopPrice = types.Ptr(candidate)
			pos.StopATR = types.Ptr(atrNow)
			e.log.Info("recalibrated stop price",
				logger.String("pair", pair), logger.String("position", id),
				logger.String("stop", display(candidate)))
		}
	}

	triggered := (pos.Side == types.Sell && price.LessThanOrEqual(*pos.StopPrice)) ||
		(pos.Side == types.Buy && price.GreaterThanOrEqual(*pos.StopPrice))
	if triggered {
		if e.closePosition(pair, pairState, id, pos, price, balance) {
			return
		}
		// Veto or rejected order: the position stays live and the trigger
		// is re-evaluated next tick with a fresh price.
	}

	improved := (pos.Side == types.Sell && price.GreaterThan(*pos.TrailingPrice)) ||
		(pos.Side == types.Buy && price.LessThan(*pos.TrailingPrice))
	if improved {
		pos.TrailingPrice = types.Ptr(price)
		candidate := strat.StopPrice(pos.Side, pos.EntryPrice, price, *pos.StopATR, pair)
		if favorable(pos.Side, candidate, *pos.StopPrice) {
			pos.StopPrice = types.Ptr(candidate)
		}
		e.log.Info("trailing update",
			logger.String("pair", pair), logger.String("position", id),
			logger.String("trailing", display(price)),
			logger.String("stop", display(*pos.StopPrice)))
	}
}

// closePosition submits the closing limit order at the stop price. Returns
// true when the position was closed and removed; false leaves it in place
// for the next tick.
func (e *Engine) closePosition(pair string, pairState types.PairState, id string, pos *types.Position, price decimal.Decimal, balance map[string]decimal.Decimal) bool {
	stop := *pos.StopPrice

	if pos.Side == types.Sell && !e.canExecuteSell(pair, id, pos.Volume, price, balance) {
		return false
	}

	volume := pos.Volume
	cost := pos.Cost
	var pnl decimal.Decimal
	if pos.Side == types.Sell {
		cost = volume.Mul(stop)
		pnl = stop.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
	} else {
		volume = cost.Div(stop)
		pnl = pos.EntryPrice.Sub(stop).Div(pos.EntryPrice).Mul(hundred)
	}

	e.notify.Notify(fmt.Sprintf("⛔[CLOSE] %s: stop price %s hit for position %s, placing LIMIT %s order",
		pair, display(stop), id, strings.ToUpper(string(pos.Side))))

	orderID, err := e.exch.PlaceLimit(pair, pos.Side, stop, volume)
	if err != nil {
		e.log.Error("closing order rejected",
			logger.String("pair", pair), logger.String("position", id), logger.Err(err))
		e.notify.Notify(fmt.Sprintf("❌ %s: failed to place closing order for position %s, retrying next tick", pair, id))
		return false
	}

	pos.Cost = cost
	pos.Volume = volume
	pos.ClosingTime = types.NowString()
	pos.PnL = types.Ptr(pnl.Round(types.PnLScale))

	if err := e.store.AppendClosed(pos, id, orderID, pair); err != nil {
		// The exchange accepted the order; losing the log record is
		// reported but must not resurrect the position.
		e.log.Error("failed to append closed position",
			logger.String("pair", pair), logger.String("position", id), logger.Err(err))
	}
	delete(pairState, id)
	metrics.OrdersSubmitted.WithLabelValues(pair, string(pos.Side)).Inc()
	e.notify.Notify(fmt.Sprintf("💸[PnL] %s: closed position %s at %s, %s%% result",
		pair, id, display(stop), pos.PnL))
	e.log.Info("position closed",
		logger.String("pair", pair), logger.String("position", id),
		logger.String("order", orderID), logger.String("pnl", pos.PnL.String()))
	return true
}

// canExecuteSell is the inventory-allocation guard: the sell is vetoed when
// it would push the base asset's share of account value below the
// configured floor for the pair.
func (e *Engine) canExecuteSell(pair, id string, volume, price decimal.Decimal, balance map[string]decimal.Decimal) bool {
	minAlloc, ok := e.minAlloc[pair]
	if !ok || minAlloc.IsZero() {
		return true
	}
	info := e.pairs[pair]

	baseAfter := balance[info.Base].Sub(volume)
	quoteAfter := balance[info.Quote].Add(volume.Mul(price))
	totalAfter := baseAfter.Mul(price).Add(quoteAfter)
	if totalAfter.IsZero() {
		return true
	}

	allocAfter := baseAfter.Mul(price).Div(totalAfter)
	if allocAfter.LessThan(minAlloc) {
		metrics.SellsVetoed.WithLabelValues(pair).Inc()
		e.log.Warn("sell vetoed by inventory guard",
			logger.String("pair", pair), logger.String("position", id),
			logger.String("allocation_after", allocAfter.String()),
			logger.String("min_allocation", minAlloc.String()))
		e.notify.Notify(fmt.Sprintf("🛡️[BLOCKED] %s: sell %s vetoed by inventory ratio %s < min %s",
			pair, id, allocAfter.Round(4), minAlloc))
		return false
	}
	return true
}

// UpdatePositionMetrics refreshes the open-position gauges for one pair.
func (e *Engine) UpdatePositionMetrics(pair string, pairState types.PairState) {
	var armed, active float64
	for _, pos := range pairState {
		if pos.Active() {
			active++
		} else {
			armed++
		}
	}
	metrics.PositionsOpen.WithLabelValues(pair, "armed").Set(armed)
	metrics.PositionsOpen.WithLabelValues(pair, "active").Set(active)
}

// outsideBand reports whether the sample drifted out of the 20% band
// around the stored reference.
func outsideBand(sample, ref decimal.Decimal) bool {
	return sample.LessThan(ref.Mul(bandLow)) || sample.GreaterThan(ref.Mul(bandHigh))
}

// favorable reports whether a candidate stop improves on the current one:
// up for sell, down for buy.
func favorable(side types.Side, candidate, current decimal.Decimal) bool {
	if side == types.Sell {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

func display(d decimal.Decimal) string {
	return d.Round(types.PriceScale).String()
}

func sortedPositionIDs(pairState types.PairState) []string {
	ids := make([]string, 0, len(pairState))
	for id := range pairState {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedFillIDs(fills map[string]types.Fill) []string {
	ids := make([]string, 0, len(fills))
	for id := range fills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
