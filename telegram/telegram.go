// Package telegram is the operator control plane: a long-polling bot that
// accepts commands from a single authorized user and pushes event
// notifications. It never mutates trading state; it reads the pause flag,
// the persisted state snapshot and read-only exchange queries.
package telegram

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/exchange"
	"github.com/jAjiz/BoTC/logger"
	"github.com/jAjiz/BoTC/store"
	"github.com/jAjiz/BoTC/types"
)

// replyLimit is Telegram's message size cap; long replies keep the tail.
const replyLimit = 4000

// Interface is the control-plane bot. Run blocks on the update loop;
// handlers doing exchange I/O dispatch on their own goroutine so command
// dispatch never stalls.
type Interface struct {
	bot       *tgbotapi.BotAPI
	userID    int64
	pollSec   int
	mode      string
	pairOrder []string
	pairs     map[string]types.PairInfo
	exch      exchange.Exchange
	store     *store.Store
	paused    *atomic.Bool
	log       logger.Logger
	wg        sync.WaitGroup
}

func New(
	cfg *config.Config,
	exch exchange.Exchange,
	st *store.Store,
	paused *atomic.Bool,
	pairs map[string]types.PairInfo,
	log logger.Logger,
) (*Interface, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	// Only resolved pairs are addressable from commands.
	order := make([]string, 0, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		if _, ok := pairs[pair]; ok {
			order = append(order, pair)
		}
	}
	return &Interface{
		bot:       bot,
		userID:    cfg.AllowedUserID,
		pollSec:   cfg.PollIntervalSec,
		mode:      cfg.Mode,
		pairOrder: order,
		pairs:     pairs,
		exch:      exch,
		store:     st,
		paused:    paused,
		log:       log,
	}, nil
}

// Notify pushes a message to the authorized chat. Safe for concurrent use;
// delivery failures are logged and dropped.
func (i *Interface) Notify(msg string) {
	if _, err := i.bot.Send(tgbotapi.NewMessage(i.userID, msg)); err != nil {
		i.log.Error("telegram send failed", logger.Err(err))
	}
}

// Run processes updates until Stop is called. Commands from any sender
// other than the authorized user are silently ignored.
func (i *Interface) Run() {
	i.Notify("🤖 BoTC started and running. Use /help to see available commands.")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = i.pollSec
	updates := i.bot.GetUpdatesChan(u)

	for update := range updates {
		m := update.Message
		if m == nil || !m.IsCommand() {
			continue
		}
		if m.From == nil || m.From.ID != i.userID {
			continue
		}

		switch m.Command() {
		case "help":
			i.Notify(i.helpText())
		case "status":
			i.Notify(i.statusText())
		case "pause":
			i.handlePause()
		case "resume":
			i.handleResume()
		case "market":
			i.dispatch(m.CommandArguments(), i.handleMarket)
		case "positions":
			i.dispatch(m.CommandArguments(), i.handlePositions)
		}
	}

	i.log.Info("telegram update loop exited")
}

// Stop ends the update loop and waits briefly for in-flight handlers.
func (i *Interface) Stop() {
	i.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		i.log.Warn("timed out waiting for telegram handlers")
	}
}

// dispatch runs a blocking handler off the update loop.
func (i *Interface) dispatch(args string, handler func(pairFilter string)) {
	filter := strings.ToUpper(strings.TrimSpace(args))
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		handler(filter)
	}()
}

func (i *Interface) helpText() string {
	return "📋 Available commands:\n\n" +
		"/status - Bot status and configured pairs\n" +
		"/pause - Pause bot operations\n" +
		"/resume - Resume bot operations\n" +
		"/market [pair] - Current market data (all or specific pair)\n" +
		"/positions [pair] - Open positions (all or specific pair)\n" +
		"/help - Show this help\n\n" +
		"Configured pairs: " + strings.Join(i.pairOrder, ", ") + "\n" +
		"Example: /market " + i.pairOrder[0]
}

func (i *Interface) statusText() string {
	status := "▶️ RUNNING"
	if i.paused.Load() {
		status = "⏸ PAUSED"
	}
	return fmt.Sprintf("Status: %s\nLast activity: %s\n\nMode: %s\nPairs: %s",
		status, time.Now().Format(types.TimeLayout),
		strings.ToUpper(i.mode), strings.Join(i.pairOrder, ", "))
}

func (i *Interface) handlePause() {
	if i.paused.Load() {
		i.Notify("⚠️ Bot is already paused.")
		return
	}
	i.paused.Store(true)
	i.log.Info("bot paused by operator")
	i.Notify("⏸ BoTC paused. New operations will not be processed.")
}

func (i *Interface) handleResume() {
	if !i.paused.Load() {
		i.Notify("⚠️ Bot is already running.")
		return
	}
	i.paused.Store(false)
	i.log.Info("bot resumed by operator")
	i.Notify("▶️ BoTC resumed.")
}

// selectPairs resolves an optional filter against the configured order.
func (i *Interface) selectPairs(filter string) ([]string, error) {
	if filter == "" {
		return i.pairOrder, nil
	}
	if _, ok := i.pairs[filter]; !ok {
		return nil, fmt.Errorf("❌ Unknown pair: %s\nAvailable: %s", filter, strings.Join(i.pairOrder, ", "))
	}
	return []string{filter}, nil
}

// handleMarket reports per-pair price and ATR plus an account summary.
func (i *Interface) handleMarket(filter string) {
	show, err := i.selectPairs(filter)
	if err != nil {
		i.Notify(err.Error())
		return
	}

	balance, err := i.exch.Balance()
	if err != nil {
		i.Notify(fmt.Sprintf("❌ Error fetching balance: %v", err))
		return
	}

	marketLines := []string{"📈 Market Status:"}
	totalAssets := decimal.Zero
	type seenAsset struct {
		code   string
		amount decimal.Decimal
		price  decimal.Decimal
	}
	var assets []seenAsset

	for n, pair := range show {
		info := i.pairs[pair]
		price, err := i.exch.LastPrice(info.Primary)
		if err != nil {
			marketLines = append(marketLines, fmt.Sprintf("%s: ❌ %v", pair, err))
			continue
		}
		atrText := "n/a"
		if atr, err := i.exch.CurrentATR(pair); err == nil {
			atrText = atr.Round(types.CostScale).String()
		}
		name := info.WSName
		if name == "" {
			name = pair
		}
		marketLines = append(marketLines, fmt.Sprintf("%s: %s | ATR(15m): %s",
			name, price.Round(types.CostScale), atrText))

		amount := balance[info.Base]
		totalAssets = totalAssets.Add(amount.Mul(price))
		assets = append(assets, seenAsset{code: info.Base, amount: amount, price: price})
		if len(show) > 1 && n < len(show)-1 {
			time.Sleep(time.Second)
		}
	}

	quote := i.pairs[show[0]].Quote
	quoteBalance := balance[quote]
	balanceLines := []string{"", "💰 Account Balance:", fmt.Sprintf("%s: %s",
		prettyAsset(quote), quoteBalance.Round(types.CostScale))}
	printed := map[string]bool{}
	for _, a := range assets {
		if printed[a.code] {
			continue
		}
		printed[a.code] = true
		balanceLines = append(balanceLines, fmt.Sprintf("%s: %s (%s)",
			prettyAsset(a.code), a.amount.Round(types.VolumeScale),
			a.amount.Mul(a.price).Round(types.CostScale)))
	}
	balanceLines = append(balanceLines, fmt.Sprintf("Total: %s",
		quoteBalance.Add(totalAssets).Round(types.CostScale)))

	i.Notify(truncateTail(strings.Join(append(marketLines, balanceLines...), "\n")))
}

// handlePositions formats the persisted positions with live P&L derived
// from the stop price.
func (i *Interface) handlePositions(filter string) {
	show, err := i.selectPairs(filter)
	if err != nil {
		i.Notify(err.Error())
		return
	}

	state, err := i.store.Load()
	if err != nil {
		i.Notify(fmt.Sprintf("❌ Error reading positions: %v", err))
		return
	}

	var b strings.Builder
	b.WriteString("📊 Open Positions:\n\n")
	total := 0

	for n, pair := range show {
		pairState := state[pair]
		if len(pairState) == 0 {
			continue
		}
		info := i.pairs[pair]
		price, err := i.exch.LastPrice(info.Primary)
		if err != nil {
			fmt.Fprintf(&b, "❌ Error fetching %s: %v\n\n", pair, err)
			continue
		}
		fmt.Fprintf(&b, "━━━ %s (Price: %s) ━━━\n", pair, price.Round(types.CostScale))

		ids := make([]string, 0, len(pairState))
		for id := range pairState {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			total++
			b.WriteString(FormatPosition(id, pairState[id]))
			b.WriteString("\n")
		}
		if len(show) > 1 && n < len(show)-1 {
			time.Sleep(time.Second)
		}
	}

	if total == 0 {
		i.Notify("ℹ️ No open positions.")
		return
	}
	i.Notify(truncateTail(b.String()))
}

// FormatPosition renders one position block for the /positions reply.
func FormatPosition(id string, pos *types.Position) string {
	var b strings.Builder
	if pos.Active() {
		b.WriteString("⚡ ")
	}
	fmt.Fprintf(&b, "ID: %s\n", id)
	fmt.Fprintf(&b, "Side: %s | Entry: %s\n",
		strings.ToUpper(string(pos.Side)), pos.EntryPrice.Round(types.CostScale))
	if pos.Side == types.Sell {
		fmt.Fprintf(&b, "Volume: %s\n", pos.Volume.Round(types.VolumeScale))
	} else {
		fmt.Fprintf(&b, "Cost: %s\n", pos.Cost.Round(types.CostScale))
	}
	fmt.Fprintf(&b, "Activation: %s\n", pos.ActivationPrice.Round(types.CostScale))

	if !pos.Active() {
		return b.String()
	}
	fmt.Fprintf(&b, "Trailing: %s\n", pos.TrailingPrice.Round(types.CostScale))
	fmt.Fprintf(&b, "Stop: %s\n", pos.StopPrice.Round(types.CostScale))

	pnl := LivePnL(pos)
	symbol := "🔴"
	if pnl.IsPositive() {
		symbol = "🟢"
	}
	fmt.Fprintf(&b, "P&L: %s %s%%\n", symbol, pnl.Round(types.PnLScale))
	return b.String()
}

// LivePnL is the percent result an active position would realize at its
// current stop price.
func LivePnL(pos *types.Position) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if pos.Side == types.Sell {
		return pos.StopPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
	}
	return pos.EntryPrice.Sub(*pos.StopPrice).Div(pos.EntryPrice).Mul(hundred)
}

// prettyAsset strips Kraken's X/Z ledger prefixes for display.
func prettyAsset(code string) string {
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		return code[1:]
	}
	return code
}

func truncateTail(msg string) string {
	if len(msg) <= replyLimit {
		return msg
	}
	return msg[len(msg)-replyLimit:]
}
