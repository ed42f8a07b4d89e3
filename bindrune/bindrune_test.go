package bindrune

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigaldry/sigaldry/channel"
	"github.com/sigaldry/sigaldry/codec"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	registry, err := construction.DefaultRegistry()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProvider(registry, codec.NewCBOR(), log)
	require.NoError(t, p.RegisterChannel(channel.NewLocal()))
	return p
}

func TestForge_SealUnsealRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	schema, err := runes.NewSchemaBuilder().Confidentiality().Integrity().Build()
	require.NoError(t, err)

	b, err := p.Forge(ctx, schema)
	require.NoError(t, err)

	sealed, err := b.Seal(ctx, []byte("bound secret"), []byte("aad"))
	require.NoError(t, err)

	plaintext, err := b.Unseal(ctx, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bound secret"), plaintext)
}

func TestForge_ResolutionHonorsSchema(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.Integrity{}})
	require.NoError(t, err)
	assert.Equal(t, construction.AEAD256, b.Construction().Identifier(),
		"the first satisfying construction in registration order wins")

	b, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.Integrity{}, runes.MessageLimit{Count: 3}})
	require.NoError(t, err)
	assert.Equal(t, construction.AEAD256, b.Construction().Identifier())

	b, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.QuantumResistance{}})
	require.NoError(t, err)
	assert.Equal(t, construction.MLKEMHybrid, b.Construction().Identifier())
}

func TestForge_PinnedConstructionSucceedsOnlyWhenCapabilitiesCover(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}},
		WithConstruction(construction.AEAD256))
	require.NoError(t, err)
	assert.Equal(t, construction.AEAD256, b.Construction().Identifier())

	// The signer cannot provide confidentiality; pinning must fail
	// rather than fall back.
	_, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}},
		WithConstruction(construction.Ed25519Signer))
	var notSat *construction.SchemaNotSatisfiedError
	require.ErrorAs(t, err, &notSat)
	assert.Equal(t, construction.Ed25519Signer, notSat.ID)
	assert.Equal(t, []runes.Rune{runes.Confidentiality{}}, notSat.Unmet)

	_, err = p.Forge(ctx, runes.Schema{}, WithConstruction("NO-SUCH"))
	assert.ErrorIs(t, err, construction.ErrNotFound)
}

func TestForge_RejectsInvalidSchema(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	_, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.Confidentiality{}})
	var schemaErr *runes.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, runes.DuplicateKind, schemaErr.Reason)
}

func TestForge_RejectsUnboundedLimitRequest(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	_, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.UnboundedMessageLimit()})
	assert.ErrorIs(t, err, ErrUnboundedLimit)

	_, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.UnboundedMessageSizeLimit()})
	assert.ErrorIs(t, err, ErrUnboundedLimit)

	_, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.UnboundedTotalDataLimit()})
	assert.ErrorIs(t, err, ErrUnboundedLimit)
}

func TestForge_EnvironmentSatisfiesIsolationRune(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	// No construction carries an Isolation rune; the channel's
	// environment covers it during resolution.
	b, err := p.Forge(ctx, runes.Schema{
		runes.Confidentiality{},
		runes.Isolation{Level: runes.SameProcess},
	})
	require.NoError(t, err)
	assert.Equal(t, construction.AEAD256, b.Construction().Identifier())
}

func TestForge_NoChannelForRequestedIsolation(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	_, err := p.Forge(ctx, runes.Schema{
		runes.Confidentiality{},
		runes.Isolation{Level: runes.VirtualMachine},
	})
	assert.ErrorIs(t, err, ErrNoChannel, "only a same-process channel is registered")

	_, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}},
		WithIsolation(runes.DiscreteCpu))
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestForge_SchemaIsCopiedAtForgeTime(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	schema := runes.Schema{runes.Confidentiality{}, runes.Integrity{}}
	b, err := p.Forge(ctx, schema)
	require.NoError(t, err)

	schema[0] = runes.QuantumResistance{}
	bound := b.Schema()
	assert.Equal(t, runes.Confidentiality{}, bound[0], "caller mutation after forge must not affect the binding")
}

func TestSeal_ExactlyNMessagesWithinLimit(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	schema := runes.Schema{runes.Confidentiality{}, runes.Integrity{}, runes.MessageLimit{Count: 3}}
	b, err := p.Forge(ctx, schema)
	require.NoError(t, err)

	plaintexts := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	sealed := make([][]byte, len(plaintexts))
	for i, pt := range plaintexts {
		sealed[i], err = b.Seal(ctx, pt, nil)
		require.NoError(t, err, "seal %d of 3 should succeed", i+1)
	}

	_, err = b.Seal(ctx, []byte("fourth"), nil)
	assert.ErrorIs(t, err, ErrMessageLimitExceeded)

	remaining, bounded := b.Remaining()
	assert.True(t, bounded)
	assert.Zero(t, remaining)

	// Every sealed message still unseals after the budget is spent, in
	// whatever order it comes back, and unsealing consumes nothing.
	for _, i := range []int{2, 0, 1, 1, 0, 2} {
		plaintext, err := b.Unseal(ctx, sealed[i], nil)
		require.NoError(t, err, "unseal of message %d after exhaustion", i)
		assert.Equal(t, plaintexts[i], plaintext)
	}
}

func TestSeal_ConcurrentSealsNeverExceedBudget(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	const budget = 16
	const callers = 64

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.MessageLimit{Count: budget}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Seal(ctx, []byte("racing"), nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, exceeded int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrMessageLimitExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected seal error: %v", err)
		}
	}
	assert.Equal(t, budget, ok, "exactly the budgeted number of seals should succeed")
	assert.Equal(t, callers-budget, exceeded)
}

func TestSeal_MessageSizeLimit(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{
		runes.Confidentiality{},
		runes.MessageLimit{Count: 10},
		runes.MessageSizeLimit{Bytes: 16},
	})
	require.NoError(t, err)

	_, err = b.Seal(ctx, make([]byte, 16), nil)
	require.NoError(t, err, "a message at exactly the limit is accepted")

	before, _ := b.Remaining()
	_, err = b.Seal(ctx, make([]byte, 17), nil)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	after, _ := b.Remaining()
	assert.Equal(t, before, after, "an oversized message must not consume the budget")
}

func TestSeal_TotalDataLimit(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{
		runes.Confidentiality{},
		runes.TotalDataLimit{Bytes: 32},
	})
	require.NoError(t, err)

	_, err = b.Seal(ctx, make([]byte, 20), nil)
	require.NoError(t, err)

	remaining, bounded := b.RemainingData()
	require.True(t, bounded)
	assert.Equal(t, uint64(12), remaining)

	// 13 bytes do not fit in the 12 remaining; the budget is untouched
	// and a smaller message still goes through.
	_, err = b.Seal(ctx, make([]byte, 13), nil)
	assert.ErrorIs(t, err, ErrTotalDataLimitExceeded)
	remaining, _ = b.RemainingData()
	assert.Equal(t, uint64(12), remaining)

	_, err = b.Seal(ctx, make([]byte, 12), nil)
	require.NoError(t, err)
	remaining, _ = b.RemainingData()
	assert.Zero(t, remaining)

	_, err = b.Seal(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrTotalDataLimitExceeded)
}

func TestSeal_BuilderDefaultTotalDataLimitIsBound(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	schema, err := runes.NewSchemaBuilder().Confidentiality().Integrity().Build()
	require.NoError(t, err)

	b, err := p.Forge(ctx, schema)
	require.NoError(t, err)

	remaining, bounded := b.RemainingData()
	require.True(t, bounded, "the default total data limit should be enforced")
	assert.Equal(t, runes.DefaultTotalDataLimit, remaining)

	sealed, err := b.Seal(ctx, []byte("accounted"), nil)
	require.NoError(t, err)
	remaining, _ = b.RemainingData()
	assert.Equal(t, runes.DefaultTotalDataLimit-uint64(len("accounted")), remaining)

	plaintext, err := b.Unseal(ctx, sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("accounted"), plaintext)
	remaining, _ = b.RemainingData()
	assert.Equal(t, runes.DefaultTotalDataLimit-uint64(len("accounted")), remaining,
		"unsealing does not consume the data budget")
}

func TestUnseal_TamperedMessageIsIntegrityViolation(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)
	cdc := codec.NewCBOR()

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.Integrity{}})
	require.NoError(t, err)

	sealed, err := b.Seal(ctx, []byte("intact"), nil)
	require.NoError(t, err)

	env, err := cdc.Decode(sealed)
	require.NoError(t, err)
	env.Payload[len(env.Payload)-1] ^= 0x01
	tampered, err := cdc.Encode(env)
	require.NoError(t, err)

	_, err = b.Unseal(ctx, tampered, nil)
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestUnseal_BadSignatureIsAuthenticationFailure(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)
	cdc := codec.NewCBOR()

	b, err := p.Forge(ctx, runes.Schema{runes.Integrity{}, runes.Authentication{Origin: "svc-a"}})
	require.NoError(t, err)
	require.Equal(t, construction.Ed25519Signer, b.Construction().Identifier())

	sealed, err := b.Seal(ctx, []byte("claimed"), nil)
	require.NoError(t, err)

	env, err := cdc.Decode(sealed)
	require.NoError(t, err)
	env.Payload[0] ^= 0x01 // inside the signature
	tampered, err := cdc.Encode(env)
	require.NoError(t, err)

	_, err = b.Unseal(ctx, tampered, nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailure,
		"a failed signature on an authenticating construction is an authentication failure, not an integrity one")
}

func TestUnseal_ConstructionMismatchIsCheckedBeforeCrypto(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)
	cdc := codec.NewCBOR()

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}})
	require.NoError(t, err)

	sealed, err := b.Seal(ctx, []byte("data"), nil)
	require.NoError(t, err)

	env, err := cdc.Decode(sealed)
	require.NoError(t, err)
	env.ConstructionID = construction.ChaCha20.String()
	relabeled, err := cdc.Encode(env)
	require.NoError(t, err)

	_, err = b.Unseal(ctx, relabeled, nil)
	assert.ErrorIs(t, err, ErrConstructionMismatch)
}

func TestUnseal_MalformedBytes(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}})
	require.NoError(t, err)

	_, err = b.Unseal(ctx, []byte("not an envelope"), nil)
	var malformed *codec.MalformedMessageError
	assert.ErrorAs(t, err, &malformed)
}

func TestSeal_EnvelopeCarriesOrigin(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)
	cdc := codec.NewCBOR()

	b, err := p.Forge(ctx, runes.Schema{runes.Integrity{}, runes.Authentication{Origin: "billing-service"}})
	require.NoError(t, err)

	sealed, err := b.Seal(ctx, []byte("hello"), nil)
	require.NoError(t, err)

	env, err := cdc.Decode(sealed)
	require.NoError(t, err)
	assert.Equal(t, "billing-service", env.Origin)
	assert.False(t, env.SealedAt.IsZero())

	// An explicit option overrides the schema's origin claim.
	b2, err := p.Forge(ctx, runes.Schema{runes.Integrity{}, runes.Authentication{Origin: "schema-origin"}},
		WithOrigin("option-origin"))
	require.NoError(t, err)
	sealed2, err := b2.Seal(ctx, []byte("hello"), nil)
	require.NoError(t, err)
	env2, err := cdc.Decode(sealed2)
	require.NoError(t, err)
	assert.Equal(t, "option-origin", env2.Origin)
}

func TestRevoke_BlocksAllFurtherOperations(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}})
	require.NoError(t, err)

	sealed, err := b.Seal(ctx, []byte("pre-revoke"), nil)
	require.NoError(t, err)

	require.NoError(t, b.Revoke(ctx))
	assert.True(t, b.Revoked())

	_, err = b.Seal(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = b.Unseal(ctx, sealed, nil)
	assert.ErrorIs(t, err, ErrRevoked, "revocation also ends unsealing")

	assert.NoError(t, b.Revoke(ctx), "revoking twice is a no-op")
}

// flakyDestroyChannel fails key destruction a configured number of
// times before letting it through.
type flakyDestroyChannel struct {
	*channel.Local
	failures int
}

func (f *flakyDestroyChannel) DestroyKey(ctx context.Context, handle channel.KeyHandle) error {
	if f.failures > 0 {
		f.failures--
		return channel.ErrConnectivityLost
	}
	return f.Local.DestroyKey(ctx, handle)
}

func TestRevoke_RetriesUnconfirmedDestruction(t *testing.T) {
	ctx := context.Background()
	registry, err := construction.DefaultRegistry()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProvider(registry, codec.NewCBOR(), log)
	flaky := &flakyDestroyChannel{Local: channel.NewLocal(), failures: 1}
	require.NoError(t, p.RegisterChannel(flaky))

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}})
	require.NoError(t, err)

	err = b.Revoke(ctx)
	var unconfirmed *DestroyUnconfirmedError
	require.ErrorAs(t, err, &unconfirmed)
	assert.Equal(t, b.Handle(), unconfirmed.Handle)

	// Revocation took effect locally despite the failed destroy.
	_, err = b.Seal(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrRevoked)

	// The retry destroys the key for real.
	require.NoError(t, b.Revoke(ctx))
	require.NoError(t, b.Revoke(ctx), "fully revoked is stable")
}

func TestRevoke_ToleratesAlreadyDestroyedKey(t *testing.T) {
	ctx := context.Background()
	local := channel.NewLocal()

	registry, err := construction.DefaultRegistry()
	require.NoError(t, err)
	p := NewProvider(registry, codec.NewCBOR(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, p.RegisterChannel(local))

	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}})
	require.NoError(t, err)

	// The key vanishes out from under the binding, as after a custodian
	// wipe. Revoke treats unknown-handle as destruction confirmed.
	require.NoError(t, local.DestroyKey(ctx, b.Handle()))
	assert.NoError(t, b.Revoke(ctx))
}

func TestProvider_RejectsDuplicateChannelLevel(t *testing.T) {
	p := testProvider(t)
	err := p.RegisterChannel(channel.NewLocal())
	assert.Error(t, err, "one channel per isolation level")
}

func TestRemaining_DefaultsFromConstructionCapabilities(t *testing.T) {
	ctx := context.Background()
	p := testProvider(t)

	// No limit requested: the AEAD's own nonce-collision bound applies.
	b, err := p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.Integrity{}})
	require.NoError(t, err)
	remaining, bounded := b.Remaining()
	assert.True(t, bounded)
	assert.Equal(t, uint64(1)<<32, remaining)

	// The hybrid has no message bound at all.
	b, err = p.Forge(ctx, runes.Schema{runes.Confidentiality{}, runes.QuantumResistance{}})
	require.NoError(t, err)
	_, bounded = b.Remaining()
	assert.False(t, bounded)
}
