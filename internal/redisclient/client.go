package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/set_cart_quantity.lua
var setCartQuantityScript string

// DefaultCartTTL bounds how long an untouched cart survives.
const DefaultCartTTL = 30 * 24 * time.Hour

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	setQtyScript  *redis.Script
	cartTTL       time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		setQtyScript:  redis.NewScript(setCartQuantityScript),
		cartTTL:       DefaultCartTTL,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

// AddToCart increments the quantity of a product in the user's cart and
// returns the new quantity.
func (c *Client) AddToCart(ctx context.Context, userID, productID int64, quantity int) (int, error) {
	key := cartKey(userID)

	pipe := c.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, strconv.FormatInt(productID, 10), int64(quantity))
	pipe.Expire(ctx, key, c.cartTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to add to cart: %w", err)
	}
	return int(incr.Val()), nil
}

// SetCartQuantity overwrites a line; a quantity <= 0 removes it.
func (c *Client) SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	_, err := c.setQtyScript.Run(ctx, c.rdb,
		[]string{cartKey(userID)},
		strconv.FormatInt(productID, 10), quantity, int(c.cartTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("set cart quantity script failed: %w", err)
	}
	return nil
}

func (c *Client) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	return c.rdb.HDel(ctx, cartKey(userID), strconv.FormatInt(productID, 10)).Err()
}

// CartLines returns the user's cart ordered by product id.
func (c *Client) CartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	raw, err := c.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	return parseCart(raw)
}

func (c *Client) ClearCart(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}

func parseCart(raw map[string]string) ([]models.CartLine, error) {
	lines := make([]models.CartLine, 0, len(raw))
	for field, value := range raw {
		productID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt cart field %q: %w", field, err)
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("corrupt cart quantity for product %d: %w", productID, err)
		}
		if qty <= 0 {
			continue
		}
		lines = append(lines, models.CartLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// AcquireLock acquires a distributed lock and returns the owner token needed
// to release it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
