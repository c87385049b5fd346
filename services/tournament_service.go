package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"game-economy/models"
	"game-economy/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var validate = validator.New()

// Validate runs struct-tag validation and reports failures as ValidationError.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return ValidationError.Wrap(err, "invalid input")
	}
	return nil
}

// ReceiptArchive stores settlement receipts and returns their location.
type ReceiptArchive interface {
	PutReceipt(ctx context.Context, key string, body []byte) (string, error)
}

type TournamentService struct {
	DB        *gorm.DB
	Ledger    *LedgerService
	Referrals *ReferralService
	Archive   ReceiptArchive // optional
	Notifier  Notifier
	Now       func() time.Time

	log zerolog.Logger
}

func NewTournamentService(db *gorm.DB, ledger *LedgerService, referrals *ReferralService, archive ReceiptArchive, notifier Notifier) *TournamentService {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &TournamentService{
		DB:        db,
		Ledger:    ledger,
		Referrals: referrals,
		Archive:   archive,
		Notifier:  notifier,
		Now:       time.Now,
		log:       utils.Component("tournament"),
	}
}

type CreateTournamentInput struct {
	Name              string                `json:"name" validate:"required,max=120"`
	Type              models.TournamentType `json:"type" validate:"omitempty,oneof=balanced unbalanced"`
	Mode              models.TournamentMode `json:"mode" validate:"omitempty,oneof=score coin_pool"`
	PrizePool         int64                 `json:"prize_pool" validate:"gte=0"`
	PrizeCurrency     models.Currency       `json:"prize_currency" validate:"omitempty,oneof=experience achievement social premium"`
	EntryCurrency     models.Currency       `json:"entry_currency" validate:"omitempty,oneof=experience achievement social premium"`
	EntryTokenAddress *string               `json:"entry_token_address" validate:"omitempty,eth_addr"`
	ChainID           *string               `json:"chain_id" validate:"omitempty,max=32"`
	MinCoins          int64                 `json:"min_coins" validate:"gte=0"`
	EquilibriumMin    *int64                `json:"equilibrium_min" validate:"omitempty,gte=0"`
	EquilibriumMax    *int64                `json:"equilibrium_max" validate:"omitempty,gte=0"`
	MaxParticipants   int                   `json:"max_participants" validate:"gte=0"`
	PrizeRule         models.PrizeRuleKind  `json:"prize_rule" validate:"omitempty,oneof=winner_take_all proportional fixed"`
	PrizeTableBps     []int64               `json:"prize_table_bps"`
	StartDate         time.Time             `json:"start_date" validate:"required"`
	EndDate           time.Time             `json:"end_date" validate:"required"`
}

// Create stores a new tournament in the upcoming state.
func (s *TournamentService) Create(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, ValidationError.Errorf("end_date must be after start_date")
	}
	if in.EquilibriumMin != nil && in.EquilibriumMax != nil && *in.EquilibriumMin > *in.EquilibriumMax {
		return nil, ValidationError.Errorf("equilibrium_min is greater than equilibrium_max")
	}
	if in.Type == "" {
		in.Type = models.TournamentUnbalanced
	}
	if in.Mode == "" {
		in.Mode = models.ModeScore
	}
	if in.PrizeCurrency == "" {
		in.PrizeCurrency = models.CurrencyPremium
	}
	if in.EntryCurrency == "" {
		in.EntryCurrency = models.CurrencyExperience
	}
	if in.PrizeRule == "" {
		in.PrizeRule = models.PrizeWinnerTakeAll
	}
	rule := PrizeRule{Kind: in.PrizeRule, TableBps: in.PrizeTableBps}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if in.PrizeRule != models.PrizeFixed {
		in.PrizeTableBps = nil
	}

	id := uuid.NewString()
	t := &models.Tournament{
		ID:                id,
		Slug:              slug.Make(in.Name) + "-" + id[:8],
		Name:              in.Name,
		Type:              in.Type,
		Mode:              in.Mode,
		PrizePool:         in.PrizePool,
		PrizeCurrency:     in.PrizeCurrency,
		EntryCurrency:     in.EntryCurrency,
		EntryTokenAddress: in.EntryTokenAddress,
		ChainID:           in.ChainID,
		MinCoins:          in.MinCoins,
		EquilibriumMin:    in.EquilibriumMin,
		EquilibriumMax:    in.EquilibriumMax,
		MaxParticipants:   in.MaxParticipants,
		PrizeRule:         in.PrizeRule,
		PrizeTableBps:     in.PrizeTableBps,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		State:             models.TournamentUpcoming,
	}
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create tournament: %w", err)
	}
	s.log.Info().Str("tournament", t.ID).Str("slug", t.Slug).Msg("tournament created")
	return t, nil
}

// Get returns a tournament with its participant count.
func (s *TournamentService) Get(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound.Errorf("tournament %s not found", id)
		}
		return nil, fmt.Errorf("load tournament %s: %w", id, err)
	}
	if err := s.DB.WithContext(ctx).Model(&models.TournamentParticipant{}).
		Where("tournament_id = ?", id).Count(&t.ParticipantsCount).Error; err != nil {
		return nil, fmt.Errorf("count participants of %s: %w", id, err)
	}
	return &t, nil
}

// List returns tournaments, newest start first, optionally filtered by state.
func (s *TournamentService) List(ctx context.Context, state models.TournamentState, limit int) ([]models.Tournament, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Order("start_date DESC").Limit(limit)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var out []models.Tournament
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	return out, nil
}

// Participants lists a tournament's participants, ranked ones first.
func (s *TournamentService) Participants(ctx context.Context, id string) ([]models.TournamentParticipant, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var ps []models.TournamentParticipant
	err := s.DB.WithContext(ctx).
		Where("tournament_id = ?", id).
		Order("CASE WHEN final_rank IS NULL THEN 1 ELSE 0 END, final_rank ASC, joined_at ASC, account_address ASC").
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("load participants of %s: %w", id, err)
	}
	return ps, nil
}

func lockTournament(tx *gorm.DB, id string) (*models.Tournament, error) {
	var t models.Tournament
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound.Errorf("tournament %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock tournament %s: %w", id, err)
	}
	return &t, nil
}

func setState(tx *gorm.DB, t *models.Tournament, to models.TournamentState) error {
	if t.State.Terminal() {
		return InvalidState.Errorf("tournament %s is %s", t.ID, t.State)
	}
	if err := tx.Model(t).Update("state", to).Error; err != nil {
		return fmt.Errorf("move tournament %s to %s: %w", t.ID, to, err)
	}
	t.State = to
	utils.TournamentTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

func (s *TournamentService) transition(ctx context.Context, id string, from, to models.TournamentState) (*models.Tournament, error) {
	var out *models.Tournament
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if t.State != from {
			return InvalidState.Errorf("tournament %s is %s, expected %s", id, t.State, from)
		}
		if err := setState(tx, t, to); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("tournament", id).Str("from", string(from)).Str("to", string(to)).Msg("tournament state changed")
	return out, nil
}

// Start moves an upcoming tournament to active.
func (s *TournamentService) Start(ctx context.Context, id string) (*models.Tournament, error) {
	return s.transition(ctx, id, models.TournamentUpcoming, models.TournamentActive)
}

// End moves an active tournament to ended.
func (s *TournamentService) End(ctx context.Context, id string) (*models.Tournament, error) {
	return s.transition(ctx, id, models.TournamentActive, models.TournamentEnded)
}

// Cancel moves an upcoming tournament to cancelled, refunding every
// participant's escrow and removing the participants in the same transaction.
func (s *TournamentService) Cancel(ctx context.Context, id string) (*models.Tournament, error) {
	var out *models.Tournament
	var refunds []*models.CoinTransaction
	err := s.Ledger.RunInTx(ctx, func(tx *gorm.DB) error {
		refunds = refunds[:0]
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if t.State != models.TournamentUpcoming {
			return InvalidState.Errorf("tournament %s is %s, only upcoming tournaments can be cancelled", id, t.State)
		}
		var ps []models.TournamentParticipant
		if err := tx.Where("tournament_id = ?", id).Order("joined_at ASC").Find(&ps).Error; err != nil {
			return fmt.Errorf("load participants of %s: %w", id, err)
		}
		for _, p := range ps {
			if p.CoinsBurned > 0 {
				refund, err := s.Ledger.CreditTx(tx, Entry{
					Account:     p.AccountAddress,
					Currency:    p.EntryCurrency,
					Amount:      p.CoinsBurned,
					Source:      models.SourceTournament,
					Description: fmt.Sprintf("refund: %s cancelled", t.Name),
					Reference:   t.ID,
				})
				if err != nil {
					return err
				}
				refunds = append(refunds, refund)
			}
			if err := tx.Delete(&models.TournamentParticipant{}, "id = ?", p.ID).Error; err != nil {
				return fmt.Errorf("remove participant %s: %w", p.AccountAddress, err)
			}
		}
		if err := setState(tx, t, models.TournamentCancelled); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range refunds {
		s.Notifier.Publish(rewardCreditedEvent(r))
	}
	s.log.Info().Str("tournament", id).Int("refunds", len(refunds)).Msg("tournament cancelled")
	return out, nil
}

// eligibility resolves whether account may join t and which eligibility type
// it joins under. Referral facts are read before the join transaction opens.
func (s *TournamentService) eligibility(ctx context.Context, t *models.Tournament, account string) (models.TournamentType, error) {
	acct, err := s.Ledger.Accounts.Get(ctx, account)
	if errors.Is(err, UnknownAccount) {
		// the debit reports it
		return models.TournamentUnbalanced, nil
	}
	if err != nil {
		return "", err
	}
	if acct.IsBanned() {
		return "", NotEligible.Errorf("account %s is banned", account)
	}

	sum, err := s.Referrals.Summary(ctx, account)
	if err != nil {
		return "", err
	}
	eligibility := models.TournamentUnbalanced
	if sum.IsBalanced {
		eligibility = models.TournamentBalanced
	}
	if t.Type == models.TournamentBalanced && !sum.IsBalanced {
		return "", NotEligible.Errorf("tournament %s requires a balanced referral tree", t.ID)
	}
	if t.HasEquilibriumWindow() && !t.InEquilibriumWindow(sum.EquilibriumPoint) {
		return "", NotEligible.Errorf("equilibrium point %d is outside the tournament window", sum.EquilibriumPoint)
	}
	return eligibility, nil
}

func (s *TournamentService) checkJoinable(t *models.Tournament, now time.Time) error {
	if t.State != models.TournamentUpcoming && t.State != models.TournamentActive {
		return InvalidState.Errorf("tournament %s is %s", t.ID, t.State)
	}
	if !t.AcceptsJoinAt(now) {
		return InvalidState.Errorf("tournament %s is not accepting entries at %s", t.ID, now.Format(time.RFC3339))
	}
	return nil
}

func findParticipant(tx *gorm.DB, tournamentID, account string, lock bool) (*models.TournamentParticipant, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.TournamentParticipant
	err := q.First(&p, "tournament_id = ? AND account_address = ?", tournamentID, account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load participant %s: %w", account, err)
	}
	return &p, nil
}

// Join escrows amount of the entry currency from account and registers it as
// a participant. The debit and the insert commit together.
func (s *TournamentService) Join(ctx context.Context, id, account string, amount int64) (*models.TournamentParticipant, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ValidationError.Errorf("amount must be positive, got %d", amount)
	}
	now := s.Now()
	if err := s.checkJoinable(t, now); err != nil {
		return nil, err
	}
	if p, err := findParticipant(s.DB.WithContext(ctx), id, account, false); err != nil {
		return nil, err
	} else if p != nil {
		return nil, AlreadyJoined.Errorf("%s already joined tournament %s", account, id)
	}
	if amount < t.MinCoins {
		return nil, BelowMinimum.Errorf("entry of %d is below the minimum of %d", amount, t.MinCoins)
	}
	eligibility, err := s.eligibility(ctx, t, account)
	if err != nil {
		return nil, err
	}

	var out *models.TournamentParticipant
	err = s.Ledger.RunInTx(ctx, func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if err := s.checkJoinable(t, now); err != nil {
			return err
		}
		if p, err := findParticipant(tx, id, account, false); err != nil {
			return err
		} else if p != nil {
			return AlreadyJoined.Errorf("%s already joined tournament %s", account, id)
		}
		if t.MaxParticipants > 0 {
			var n int64
			if err := tx.Model(&models.TournamentParticipant{}).Where("tournament_id = ?", id).Count(&n).Error; err != nil {
				return fmt.Errorf("count participants of %s: %w", id, err)
			}
			if n >= int64(t.MaxParticipants) {
				return CapacityReached.Errorf("tournament %s is full (%d participants)", id, t.MaxParticipants)
			}
		}

		if _, err := s.Ledger.DebitTx(tx, Entry{
			Account:     account,
			Currency:    t.EntryCurrency,
			Amount:      amount,
			Source:      models.SourceTournament,
			Description: fmt.Sprintf("entry: %s", t.Name),
			Reference:   t.ID,
		}); err != nil {
			return err
		}

		p := &models.TournamentParticipant{
			ID:              uuid.NewString(),
			TournamentID:    id,
			AccountAddress:  account,
			CoinsBurned:     amount,
			EntryCurrency:   t.EntryCurrency,
			EligibilityType: eligibility,
			JoinedAt:        now,
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("insert participant %s: %w", account, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("tournament", id).Str("account", account).Int64("amount", amount).Msg("joined tournament")
	return out, nil
}

// Leave refunds exactly the escrowed amount and removes the participant.
// Only upcoming tournaments can be left.
func (s *TournamentService) Leave(ctx context.Context, id, account string) (*models.CoinTransaction, error) {
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	var refund *models.CoinTransaction
	err := s.Ledger.RunInTx(ctx, func(tx *gorm.DB) error {
		refund = nil
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if t.State != models.TournamentUpcoming {
			return InvalidState.Errorf("tournament %s is %s, entries can only be withdrawn before it starts", id, t.State)
		}
		p, err := findParticipant(tx, id, account, true)
		if err != nil {
			return err
		}
		if p == nil {
			return NotFound.Errorf("%s has not joined tournament %s", account, id)
		}
		if p.CoinsBurned > 0 {
			refund, err = s.Ledger.CreditTx(tx, Entry{
				Account:     account,
				Currency:    p.EntryCurrency,
				Amount:      p.CoinsBurned,
				Source:      models.SourceTournament,
				Description: fmt.Sprintf("refund: left %s", t.Name),
				Reference:   t.ID,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.TournamentParticipant{}, "id = ?", p.ID).Error; err != nil {
			return fmt.Errorf("remove participant %s: %w", account, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refund != nil {
		s.Notifier.Publish(rewardCreditedEvent(refund))
	}
	return refund, nil
}

// SubmitScore records score for an active tournament, keeping the best one.
func (s *TournamentService) SubmitScore(ctx context.Context, id, account string, score int64) (*models.TournamentParticipant, error) {
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	if score < 0 {
		return nil, ValidationError.Errorf("score must not be negative")
	}
	var out *models.TournamentParticipant
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if t.State != models.TournamentActive {
			return InvalidState.Errorf("tournament %s is %s, scores are accepted while active", id, t.State)
		}
		p, err := findParticipant(tx, id, account, true)
		if err != nil {
			return err
		}
		if p == nil {
			return NotFound.Errorf("%s has not joined tournament %s", account, id)
		}
		if score > p.Score {
			if err := tx.Model(p).Update("score", score).Error; err != nil {
				return fmt.Errorf("update score for %s: %w", account, err)
			}
			p.Score = score
		}
		out = p
		return nil
	})
	return out, err
}

// SettlementResult is what Settle returns and what the receipt archive stores.
type SettlementResult struct {
	Tournament   *models.Tournament             `json:"tournament"`
	Rule         PrizeRule                      `json:"rule"`
	Pot          int64                          `json:"pot"`
	Participants []models.TournamentParticipant `json:"participants"`
	Reference    string                         `json:"reference"`
	ReceiptURL   string                         `json:"receipt_url,omitempty"`
}

// rank orders participants by the tournament's ranking key, best first.
// Ties go to the earlier joiner, then to the lower address.
func rank(mode models.TournamentMode, ps []models.TournamentParticipant) {
	key := func(p models.TournamentParticipant) int64 {
		if mode == models.ModeCoinPool {
			return p.CoinsBurned
		}
		return p.Score
	}
	sort.SliceStable(ps, func(i, j int) bool {
		ki, kj := key(ps[i]), key(ps[j])
		if ki != kj {
			return ki > kj
		}
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].AccountAddress < ps[j].AccountAddress
	})
}

// Pot is the amount distributed at settlement.
func Pot(t *models.Tournament, ps []models.TournamentParticipant) int64 {
	pot := t.PrizePool
	if t.Mode == models.ModeCoinPool {
		for _, p := range ps {
			pot += p.CoinsBurned
		}
	}
	return pot
}

// Settle ranks the participants of an ended tournament and pays their prizes.
// rule overrides the stored prize rule when non-nil. Ranking and payouts are
// separate transactions: an interrupted settlement stays in the settling state
// and calling Settle again finishes the unpaid participants without
// recomputing ranks.
func (s *TournamentService) Settle(ctx context.Context, id string, rule *PrizeRule) (*SettlementResult, error) {
	var pot int64
	var used PrizeRule
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		switch t.State {
		case models.TournamentSettled:
			return AlreadySettled.Errorf("tournament %s was settled at %s", id, t.SettledAt)
		case models.TournamentSettling:
			used = ruleFromTournament(t)
			if rule != nil && !rule.Same(used) {
				return InvalidState.Errorf("tournament %s is already settling with the %s rule, overrides no longer apply", id, used.Kind)
			}
			return nil
		case models.TournamentEnded:
		default:
			return InvalidState.Errorf("tournament %s is %s, only ended tournaments can be settled", id, t.State)
		}

		used = ruleFromTournament(t)
		if rule != nil {
			used = *rule
		}
		var ps []models.TournamentParticipant
		if err := tx.Where("tournament_id = ?", id).Find(&ps).Error; err != nil {
			return fmt.Errorf("load participants of %s: %w", id, err)
		}
		rank(t.Mode, ps)
		shares, err := used.Shares(len(ps))
		if err != nil {
			return err
		}
		pot = Pot(t, ps)
		amounts := Distribute(pot, shares)
		var total int64
		for _, a := range amounts {
			total += a
		}
		if total > pot {
			return InternalConsistencyError.Errorf("prizes total %d exceed pot %d", total, pot)
		}

		for i := range ps {
			r, share, amount := i+1, shares[i], amounts[i]
			if err := tx.Model(&ps[i]).Updates(map[string]interface{}{
				"final_rank":      r,
				"prize_share_bps": share,
				"prize_amount":    amount,
			}).Error; err != nil {
				return fmt.Errorf("store rank for %s: %w", ps[i].AccountAddress, err)
			}
		}
		if err := tx.Model(t).Updates(map[string]interface{}{
			"prize_rule":      used.Kind,
			"prize_table_bps": datatypes.JSONSlice[int64](used.TableBps),
		}).Error; err != nil {
			return fmt.Errorf("store prize rule for %s: %w", id, err)
		}
		return setState(tx, t, models.TournamentSettling)
	})
	if err != nil {
		return nil, err
	}

	if err := s.payOut(ctx, id); err != nil {
		return nil, err
	}

	t, err := s.finalize(ctx, id)
	if err != nil {
		return nil, err
	}

	ps, err := s.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	if pot == 0 {
		pot = Pot(t, ps)
	}
	res := &SettlementResult{Tournament: t, Rule: used, Pot: pot, Participants: ps, Reference: t.SettlementRef}
	s.archiveReceipt(ctx, res)

	s.Notifier.Publish(Event{
		Type:         EventTournamentSettled,
		TournamentID: t.ID,
		Currency:     t.PrizeCurrency,
		Amount:       pot,
		Reference:    t.SettlementRef,
		Message:      fmt.Sprintf("%s settled: %s %s coins paid to %d players", t.Name, FormatAmount(pot), t.PrizeCurrency, len(ps)),
		OccurredAt:   *t.SettledAt,
	})
	return res, nil
}

// payOut credits every unpaid participant, one transaction each.
func (s *TournamentService) payOut(ctx context.Context, id string) error {
	var pending []models.TournamentParticipant
	if err := s.DB.WithContext(ctx).
		Where("tournament_id = ? AND paid = ?", id, false).
		Order("final_rank ASC").
		Find(&pending).Error; err != nil {
		return fmt.Errorf("load unpaid participants of %s: %w", id, err)
	}

	for _, row := range pending {
		var credit *models.CoinTransaction
		err := s.Ledger.RunInTx(ctx, func(tx *gorm.DB) error {
			credit = nil
			var t models.Tournament
			if err := tx.First(&t, "id = ?", id).Error; err != nil {
				return fmt.Errorf("load tournament %s: %w", id, err)
			}
			var p models.TournamentParticipant
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", row.ID).Error; err != nil {
				return fmt.Errorf("lock participant %s: %w", row.AccountAddress, err)
			}
			if p.Paid {
				return nil
			}
			if p.FinalRank == nil || p.PrizeAmount == nil {
				return InternalConsistencyError.Errorf("participant %s has no rank in settling tournament %s", p.AccountAddress, id)
			}
			if *p.PrizeAmount > 0 {
				var err error
				credit, err = s.Ledger.CreditTx(tx, Entry{
					Account:     p.AccountAddress,
					Currency:    t.PrizeCurrency,
					Amount:      *p.PrizeAmount,
					Source:      models.SourceTournament,
					Description: fmt.Sprintf("prize: rank %d in %s", *p.FinalRank, t.Name),
					Reference:   t.ID,
					Metadata:    map[string]interface{}{"rank": *p.FinalRank, "share_bps": p.PrizeShareBps},
				})
				if err != nil {
					return err
				}
			}
			now := s.Now()
			return tx.Model(&p).Updates(map[string]interface{}{"paid": true, "paid_at": now}).Error
		})
		if err != nil {
			s.log.Error().Err(err).Str("tournament", id).Str("account", row.AccountAddress).Msg("prize payout failed")
			return err
		}
		if credit != nil {
			utils.SettlementPayouts.Inc()
			s.Notifier.Publish(rewardCreditedEvent(credit))
		}
	}
	return nil
}

// finalize moves a fully paid settling tournament to settled.
func (s *TournamentService) finalize(ctx context.Context, id string) (*models.Tournament, error) {
	var out *models.Tournament
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if t.State == models.TournamentSettled {
			return AlreadySettled.Errorf("tournament %s was settled concurrently", id)
		}
		if t.State != models.TournamentSettling {
			return InvalidState.Errorf("tournament %s is %s", id, t.State)
		}
		var unpaid int64
		if err := tx.Model(&models.TournamentParticipant{}).
			Where("tournament_id = ? AND paid = ?", id, false).
			Count(&unpaid).Error; err != nil {
			return fmt.Errorf("count unpaid participants of %s: %w", id, err)
		}
		if unpaid > 0 {
			return InternalConsistencyError.Errorf("tournament %s still has %d unpaid participants", id, unpaid)
		}

		now := s.Now()
		ref := fmt.Sprintf("settlements/%s/%s.json", t.Slug, uuid.NewString())
		if err := tx.Model(t).Updates(map[string]interface{}{
			"settled_at":     now,
			"settlement_ref": ref,
		}).Error; err != nil {
			return fmt.Errorf("store settlement of %s: %w", id, err)
		}
		t.SettledAt = &now
		t.SettlementRef = ref
		if err := setState(tx, t, models.TournamentSettled); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("tournament", id).Str("ref", out.SettlementRef).Msg("tournament settled")
	return out, nil
}

// archiveReceipt uploads the settlement receipt. Failures are logged only:
// the settlement itself has already committed.
func (s *TournamentService) archiveReceipt(ctx context.Context, res *SettlementResult) {
	if s.Archive == nil {
		return
	}
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		s.log.Warn().Err(err).Str("tournament", res.Tournament.ID).Msg("encode settlement receipt")
		return
	}
	url, err := s.Archive.PutReceipt(ctx, res.Reference, body)
	if err != nil {
		s.log.Warn().Err(err).Str("tournament", res.Tournament.ID).Str("ref", res.Reference).Msg("settlement receipt upload failed")
		return
	}
	res.ReceiptURL = url
}
