package pool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liquidityVault/internal/scaling"
	"liquidityVault/internal/tokens"
	"liquidityVault/internal/vault"
)

var (
	share    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	security = common.HexToAddress("0x3333333333333333333333333333333333333333")
	currency = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	poolAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	swapFee  = big.NewInt(10_000_000_000_000_000) // 1%
)

// constantSum prices every token at par and charges the pool swap fee.
type constantSum struct {
	lastSwap *SwapQuote
}

func (c *constantSum) OnSwap(q SwapQuote) (*big.Int, error) {
	c.lastSwap = &q
	keep, err := scaling.Complement(q.SwapFeePercentage)
	if err != nil {
		return nil, err
	}
	if q.Kind == GivenIn {
		return scaling.MulDown(q.Amount, keep)
	}
	return scaling.DivUp(q.Amount, keep)
}

func (c *constantSum) OnJoin(q JoinQuote) (Settlement, error) {
	amounts := copyAll(q.AmountsIn)
	minted := new(big.Int)
	for i, a := range amounts {
		if i != q.Indexes.Share {
			minted.Add(minted, a)
		}
	}
	amounts[q.Indexes.Share] = minted
	return Settlement{Amounts: amounts}, nil
}

func (c *constantSum) OnExit(q ExitQuote) (Settlement, error) {
	amounts := copyAll(q.AmountsOut)
	amounts[q.Indexes.Share] = new(big.Int).Set(q.ShareAmountIn)
	return Settlement{Amounts: amounts}, nil
}

type fixture struct {
	vault   *vault.Vault
	pool    *Pool
	pricing *constantSum
}

func newFixture(t *testing.T, decimals []uint8) fixture {
	t.Helper()
	v, err := vault.New(vault.Config{}, zap.NewNop())
	require.NoError(t, err)

	list := tokens.MustSort(security, currency, share)
	id, err := v.RegisterPool(vault.RegisterParams{
		PoolAddress:       poolAddr,
		Tokens:            list,
		Decimals:          decimals,
		SwapFeePercentage: swapFee,
	})
	require.NoError(t, err)

	scaler, err := v.Scaler(id)
	require.NoError(t, err)

	pricing := &constantSum{}
	p, err := New(Pool{
		ID:      id,
		Kind:    KindPrimaryIssue,
		Tokens:  list,
		Roles:   Roles{Security: security, Currency: currency, Share: share},
		Scaler:  scaler,
		Pricing: pricing,
	})
	require.NoError(t, err)
	return fixture{vault: v, pool: p, pricing: pricing}
}

func (f fixture) view(t *testing.T) vault.PoolTokens {
	t.Helper()
	view, err := f.vault.PoolTokens(f.pool.ID)
	require.NoError(t, err)
	return view
}

func (f fixture) settle(t *testing.T, req vault.SettlementRequest) vault.Receipt {
	t.Helper()
	receipt, err := f.vault.Settle(req)
	require.NoError(t, err)
	return receipt
}

func (f fixture) init(t *testing.T, amount int64) {
	t.Helper()
	res, err := f.pool.Init(f.view(t), InitParams{InitialBalances: Scalar(big.NewInt(amount))})
	require.NoError(t, err)
	f.settle(t, res.Request)
}

func ints(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func assertAmounts(t *testing.T, want []int64, got []*big.Int) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, big.NewInt(want[i]).String(), got[i].String(), "index %d", i)
	}
}

func TestRoleIndexesFollowTokenOrder(t *testing.T) {
	f := newFixture(t, nil)

	idx, err := f.pool.RoleIndexes()
	require.NoError(t, err)
	assert.Equal(t, Indexes{Security: 1, Currency: 2, Share: 0}, idx)
}

func TestNewValidatesRoles(t *testing.T) {
	list := tokens.MustSort(security, currency)

	_, err := New(Pool{Tokens: list, Roles: Roles{Share: share}, Pricing: &constantSum{}})
	assert.ErrorIs(t, err, tokens.ErrUnknownToken)

	_, err = New(Pool{Tokens: list, Roles: Roles{Share: security, Currency: poolAddr}, Pricing: &constantSum{}})
	assert.ErrorIs(t, err, tokens.ErrUnknownToken)

	_, err = New(Pool{Tokens: list, Roles: Roles{Share: security}})
	assert.ErrorIs(t, err, ErrNoPricing)

	scaler := scaling.Identity(3)
	_, err = New(Pool{Tokens: list, Roles: Roles{Share: security}, Scaler: scaler, Pricing: &constantSum{}})
	assert.ErrorIs(t, err, vault.ErrLengthMismatch)
}

func TestInitBroadcastsScalar(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.pool.Init(f.view(t), InitParams{InitialBalances: Scalar(big.NewInt(1_000))})
	require.NoError(t, err)
	assertAmounts(t, []int64{2_000, 1_000, 1_000}, res.Request.Deltas)
	assert.Equal(t, vault.KindJoin, res.Request.Kind)

	receipt := f.settle(t, res.Request)
	assert.Equal(t, uint64(1), receipt.LastChangeBlock)
	assertAmounts(t, []int64{2_000, 1_000, 1_000}, f.view(t).Balances)

	_, err = f.pool.Init(f.view(t), InitParams{InitialBalances: Scalar(big.NewInt(1))})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestJoinRejectsStaleView(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000)

	_, err := f.pool.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(0, 10, 10)...), LastChangeBlock: 0})
	assert.ErrorIs(t, err, vault.ErrStalePrice)

	_, err = f.pool.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(0, 10, 10)...), LastChangeBlock: 2})
	assert.ErrorIs(t, err, vault.ErrStalePrice, "a counter ahead of the view is rejected too")

	res, err := f.pool.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(0, 10, 30)...), LastChangeBlock: 1})
	require.NoError(t, err)
	assertAmounts(t, []int64{40, 10, 30}, res.AmountsIn)
	f.settle(t, res.Request)
	assertAmounts(t, []int64{2_040, 1_010, 1_030}, f.view(t).Balances)
}

func TestJoinRejectsBadAmounts(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pool.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(1, 2)...)})
	assert.ErrorIs(t, err, vault.ErrLengthMismatch)

	_, err = f.pool.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(0, -1, 2)...)})
	assert.ErrorIs(t, err, vault.ErrNegativeAmount)
}

func TestExitNegatesPricedAmounts(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000)

	res, err := f.pool.ExitGivenOut(f.view(t), ExitGivenOutParams{
		AmountsOut:      Vector(ints(0, 100, 150)...),
		ShareAmountIn:   big.NewInt(250),
		LastChangeBlock: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, vault.KindExit, res.Request.Kind)
	assertAmounts(t, []int64{-250, -100, -150}, res.Request.Deltas)
	assertAmounts(t, []int64{250, 100, 150}, res.AmountsOut)

	receipt := f.settle(t, res.Request)
	assertAmounts(t, []int64{250, 100, 150}, AmountsOut(receipt))
	assertAmounts(t, []int64{1_750, 900, 850}, f.view(t).Balances)
}

func TestExitBeyondBalanceIsRejectedByVault(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000)
	before := f.view(t)

	res, err := f.pool.ExitGivenOut(before, ExitGivenOutParams{
		AmountsOut:      Vector(ints(0, 0, 1_001)...),
		ShareAmountIn:   big.NewInt(1),
		LastChangeBlock: before.LastChangeBlock,
	})
	require.NoError(t, err)

	_, err = f.vault.Settle(res.Request)
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
	assert.Equal(t, before.Balances, f.view(t).Balances)
	assert.Equal(t, before.LastChangeBlock, f.view(t).LastChangeBlock)
}

func TestSwapPassesQuoteUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000_000)
	view := f.view(t)

	res, err := f.pool.SwapGivenIn(view, SwapParams{IndexIn: 2, IndexOut: 1, Amount: big.NewInt(10_000), LastChangeBlock: 1})
	require.NoError(t, err)

	q := f.pricing.lastSwap
	require.NotNil(t, q)
	assert.Equal(t, f.pool.ID, q.PoolID)
	assert.Equal(t, GivenIn, q.Kind)
	assert.Equal(t, 2, q.IndexIn)
	assert.Equal(t, 1, q.IndexOut)
	assert.Equal(t, "10000", q.Amount.String())
	assert.Equal(t, view.Balances, q.Balances)
	assert.Equal(t, view.LastChangeBlock, q.LastChangeBlock)

	assert.Equal(t, "9900", res.AmountOut.String())
	receipt := f.settle(t, res.Request)
	assertAmounts(t, []int64{0, -9_900, 10_000}, receipt.Deltas)
	assert.Equal(t, currency, receipt.Swap.TokenIn)
	assert.Equal(t, security, receipt.Swap.TokenOut)
}

func TestSwapValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000)
	view := f.view(t)

	_, err := f.pool.SwapGivenIn(view, SwapParams{IndexIn: 1, IndexOut: 1, Amount: big.NewInt(1), LastChangeBlock: 1})
	assert.ErrorIs(t, err, vault.ErrSameToken)

	_, err = f.pool.SwapGivenOut(view, SwapParams{IndexIn: 1, IndexOut: 3, Amount: big.NewInt(1), LastChangeBlock: 1})
	assert.ErrorIs(t, err, tokens.ErrUnknownToken)

	_, err = f.pool.SwapGivenIn(view, SwapParams{IndexIn: 1, IndexOut: 2, Amount: big.NewInt(1), LastChangeBlock: 0})
	assert.ErrorIs(t, err, vault.ErrStalePrice)

	other := view
	other.PoolID = vault.NewPoolID(poolAddr, vault.GeneralSpecialization, 99)
	_, err = f.pool.SwapGivenIn(other, SwapParams{IndexIn: 1, IndexOut: 2, Amount: big.NewInt(1), LastChangeBlock: 1})
	assert.ErrorIs(t, err, ErrPoolMismatch)
}

func TestSwapRoundTripCostsAtLeastAmountIn(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 10_000_000)

	amountIn := big.NewInt(1_000_000)
	first, err := f.pool.SwapGivenIn(f.view(t), SwapParams{IndexIn: 1, IndexOut: 2, Amount: amountIn, LastChangeBlock: 1})
	require.NoError(t, err)
	f.settle(t, first.Request)

	back, err := f.pool.SwapGivenOut(f.view(t), SwapParams{IndexIn: 2, IndexOut: 1, Amount: amountIn, LastChangeBlock: 2})
	require.NoError(t, err)
	f.settle(t, back.Request)

	assert.Equal(t, amountIn.String(), back.AmountOut.String())
	assert.True(t, back.AmountIn.Cmp(first.AmountOut) > 0, "buying back must cost more than was received")
	assert.True(t, back.AmountIn.Cmp(amountIn) >= 0, "round trip must not be profitable")
	assert.Equal(t, uint64(3), f.view(t).LastChangeBlock)
}

func TestSwapScalesNativeAmounts(t *testing.T) {
	// share and security carry 18 decimals, the currency 6.
	f := newFixture(t, []uint8{18, 18, 6})
	f.init(t, 1_000_000)

	res, err := f.pool.SwapGivenIn(f.view(t), SwapParams{IndexIn: 2, IndexOut: 1, Amount: big.NewInt(1), LastChangeBlock: 1})
	require.NoError(t, err)
	assert.Equal(t, "1000000000000", res.AmountIn.String())
	assert.Equal(t, "990000000000", res.AmountOut.String())
}

func TestQuotedPricing(t *testing.T) {
	f := newFixture(t, nil)
	f.init(t, 1_000)

	q, err := New(Pool{
		ID:      f.pool.ID,
		Kind:    KindWeighted,
		Tokens:  f.pool.Tokens,
		Roles:   Roles{Share: share},
		Pricing: Quoted{Calculated: big.NewInt(40)},
	})
	require.NoError(t, err)

	res, err := q.SwapGivenOut(f.view(t), SwapParams{IndexIn: 1, IndexOut: 2, Amount: big.NewInt(39), LastChangeBlock: 1})
	require.NoError(t, err)
	assert.Equal(t, "40", res.Request.Swap.AmountIn.String())
	assert.Equal(t, "39", res.Request.Swap.AmountOut.String())

	join, err := q.Join(f.view(t), JoinParams{AmountsIn: Vector(ints(5, 6, 7)...), LastChangeBlock: 1})
	require.NoError(t, err)
	assertAmounts(t, []int64{5, 6, 7}, join.Request.Deltas)
	assertAmounts(t, []int64{0, 0, 0}, join.Request.ProtocolFeeAmounts)

	empty, err := New(Pool{ID: f.pool.ID, Tokens: f.pool.Tokens, Roles: Roles{Share: share}, Pricing: Quoted{}})
	require.NoError(t, err)
	_, err = empty.SwapGivenIn(f.view(t), SwapParams{IndexIn: 1, IndexOut: 2, Amount: big.NewInt(1), LastChangeBlock: 1})
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestAmountsBroadcast(t *testing.T) {
	got, err := Scalar(big.NewInt(3)).Broadcast(3)
	require.NoError(t, err)
	assertAmounts(t, []int64{3, 3, 3}, got)

	got, err = Amounts{}.Broadcast(2)
	require.NoError(t, err)
	assertAmounts(t, []int64{0, 0}, got)

	_, err = Vector(big.NewInt(1)).Broadcast(2)
	assert.ErrorIs(t, err, vault.ErrLengthMismatch)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("primary_issue")
	require.NoError(t, err)
	assert.Equal(t, KindPrimaryIssue, k)
	assert.Equal(t, "linear", KindLinear.String())

	_, err = ParseKind("managed")
	assert.Error(t, err)
}
