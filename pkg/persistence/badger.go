package persistence

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerService 基于 Badger 的持久化服务。
// 与 JSONFileService 实现同一个 Service 接口，适合高频 key-value 写入场景
// （窗口状态记录比 JSON 文件少一次 rename 系统调用）。
type BadgerService struct {
	db *badger.DB
}

// OpenBadger 打开（或创建）Badger 存储目录
func OpenBadger(dir string) (*BadgerService, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 失败: %w", err)
	}
	return &BadgerService{db: db}, nil
}

// Close 关闭底层数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	key := fmt.Sprintf("%s:%s:%s", prefix, id, tag)
	return &badgerStore{db: s.db, key: []byte(key)}
}

type badgerStore struct {
	db  *badger.DB
	key []byte
}

func (s *badgerStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

func (s *badgerStore) Load(data interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotExists
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return ErrNotExists
			}
			return json.Unmarshal(val, data)
		})
	})
}
