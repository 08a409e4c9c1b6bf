package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ideabot/api/internal/util"
)

// RedisStore keeps each node's fields in a hash and each node's child segments
// in a set. Writes run in MULTI/EXEC so a merge lands all of its fields at once.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) nodeKey(path string) string { return s.prefix + "node:" + path }

func (s *RedisStore) kidsKey(path string) string { return s.prefix + "kids:" + path }

func (s *RedisStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	root, err := normalize(path)
	if err != nil {
		return nil, err
	}
	nodes, _, err := s.collect(ctx, root)
	if err != nil {
		return nil, err
	}
	return assemble(root, nodes)
}

func (s *RedisStore) ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	root, err := normalize(path)
	if err != nil {
		return nil, err
	}
	nodes, _, err := s.collect(ctx, root)
	if err != nil {
		return nil, err
	}
	return children(root, nodes)
}

func (s *RedisStore) Add(ctx context.Context, path string, value any) (string, error) {
	root, err := normalize(path)
	if err != nil {
		return "", err
	}
	key := util.NewRecordID()
	if err := s.Update(ctx, childPath(root, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) Update(ctx context.Context, path string, value any) error {
	root, err := normalize(path)
	if err != nil {
		return err
	}
	nodes, err := flatten(root, value)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, n := range nodes {
			values := make(map[string]any, len(n.fields))
			for field, raw := range n.fields {
				values[field] = string(raw)
			}
			pipe.HSet(ctx, s.nodeKey(n.path), values)
			for p := n.path; p != "/"; p = parentOf(p) {
				pipe.SAdd(ctx, s.kidsKey(parentOf(p)), lastSegment(p))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", root, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	root, err := normalize(path)
	if err != nil {
		return err
	}
	if root == "/" {
		return errors.New("refusing to remove the root path")
	}
	_, paths, err := s.collect(ctx, root)
	if err != nil {
		return err
	}

	keys := make([]string, 0, 2*len(paths))
	for _, p := range paths {
		keys = append(keys, s.nodeKey(p), s.kidsKey(p))
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.kidsKey(parentOf(root)), lastSegment(root))
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// collect walks the subtree under root and returns the nodes that hold fields
// along with every path visited.
func (s *RedisStore) collect(ctx context.Context, root string) ([]node, []string, error) {
	var (
		nodes   []node
		visited []string
	)
	queue := []string{root}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		visited = append(visited, path)

		fields, err := s.client.HGetAll(ctx, s.nodeKey(path)).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(fields) > 0 {
			n := node{path: path, fields: make(map[string]json.RawMessage, len(fields))}
			for field, value := range fields {
				n.fields[field] = json.RawMessage(value)
			}
			nodes = append(nodes, n)
		}

		segments, err := s.client.SMembers(ctx, s.kidsKey(path)).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("list %s: %w", path, err)
		}
		for _, segment := range segments {
			queue = append(queue, childPath(path, segment))
		}
	}
	return nodes, visited, nil
}
