package bitcask

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/forever-free1/TideIKV/storage"
	"github.com/forever-free1/TideIKV/storage/index"
)

// MergeStats 是一次合并的统计信息
type MergeStats struct {
	LiveKeys    int   `json:"live_keys"`
	FilesBefore int   `json:"files_before"`
	FilesAfter  int   `json:"files_after"`
	BytesBefore int64 `json:"bytes_before"`
	BytesAfter  int64 `json:"bytes_after"`
}

// Reclaimed 返回合并回收的字节数
func (s MergeStats) Reclaimed() int64 {
	return s.BytesBefore - s.BytesAfter
}

type liveKey struct {
	key []byte
	pos *storage.Position
}

// Merge 只保留存活的 Entry，重写到新的数据文件并删除旧文件
// 合并期间持有写锁，读写都会等待
//
// 新文件的 ID 排在所有旧文件之后，旧文件按 ID 升序删除。
// 任意一步崩溃后重启回放，得到的键值与合并前一致：
// 残留的旧文件是一段后缀，其中每个键的墓碑都在它的写入之后。
func (db *DB) Merge() (MergeStats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var st MergeStats
	if db.closed {
		return st, ErrDBClosed
	}

	oldFiles := make([]*DataFile, 0, len(db.olderFiles)+1)
	for _, f := range db.olderFiles {
		oldFiles = append(oldFiles, f)
	}
	oldFiles = append(oldFiles, db.activeFile)
	sort.Slice(oldFiles, func(i, j int) bool {
		return oldFiles[i].GetFileID() < oldFiles[j].GetFileID()
	})

	byID := make(map[uint32]*DataFile, len(oldFiles))
	for _, f := range oldFiles {
		byID[f.GetFileID()] = f
		st.BytesBefore += f.GetWriteOff()
	}
	st.FilesBefore = len(oldFiles)

	if err := db.activeFile.Sync(); err != nil {
		return st, err
	}

	var live []liveKey
	db.index.Scan(nil, func(key []byte) bool {
		k := append([]byte(nil), key...)
		live = append(live, liveKey{key: k, pos: db.index.Get(k)})
		return true
	})

	merged, positions, err := db.writeMerged(byID, live)
	if err != nil {
		db.discard(merged)
		return st, err
	}

	// 新文件已落盘，切换内存中的文件集合和索引
	bloom := index.NewBloomFilter(db.options.ExpectedKeys, db.options.BloomFilterFP)
	for i, lk := range live {
		db.index.Put(lk.key, positions[i])
		bloom.Add(lk.key)
	}
	db.bloomFilter = bloom

	db.olderFiles = make(map[uint32]*DataFile, len(merged)-1)
	for _, f := range merged[:len(merged)-1] {
		db.olderFiles[f.GetFileID()] = f
	}
	db.activeFile = merged[len(merged)-1]
	db.fileID = db.activeFile.GetFileID()

	st.LiveKeys = len(live)
	st.FilesAfter = len(merged)
	for _, f := range merged {
		st.BytesAfter += f.GetWriteOff()
	}

	for _, f := range oldFiles {
		f.Close()
		if err := os.Remove(filepath.Join(db.dir, dataFileName(f.GetFileID()))); err != nil {
			// 停在这里：剩下的旧文件重启时仍会在新文件之前回放
			return st, fmt.Errorf("删除旧数据文件 %d 失败: %w", f.GetFileID(), err)
		}
	}

	return st, nil
}

// writeMerged 将存活的 Entry 按原编码复制到新文件，返回新文件和每个键的新位置
// 至少会创建一个文件，作为合并后的活跃文件
func (db *DB) writeMerged(byID map[uint32]*DataFile, live []liveKey) ([]*DataFile, []*storage.Position, error) {
	nextID := db.fileID + 1
	out, err := OpenDataFile(db.dir, nextID)
	if err != nil {
		return nil, nil, fmt.Errorf("创建合并文件失败: %w", err)
	}
	merged := []*DataFile{out}
	positions := make([]*storage.Position, len(live))

	for i, lk := range live {
		src, ok := byID[lk.pos.FileID]
		if !ok {
			return merged, nil, fmt.Errorf("数据文件 %d 不存在", lk.pos.FileID)
		}
		entry, err := src.ReadEntry(lk.pos.Offset)
		if err != nil {
			return merged, nil, fmt.Errorf("读取 Entry 失败 (file=%d, offset=%d): %w", lk.pos.FileID, lk.pos.Offset, err)
		}

		if out.GetWriteOff() >= db.options.DataFileSizeLimit {
			if err := out.Sync(); err != nil {
				return merged, nil, err
			}
			nextID++
			if out, err = OpenDataFile(db.dir, nextID); err != nil {
				return merged, nil, fmt.Errorf("创建合并文件失败: %w", err)
			}
			merged = append(merged, out)
		}

		// 值保持原有的压缩编码，不需要解压再压缩
		rec := NewEntry(lk.key, entry.Value, entry.Flags&^FlagTombstone)
		offset, err := out.Write(rec)
		if err != nil {
			return merged, nil, err
		}
		positions[i] = &storage.Position{
			FileID: out.GetFileID(),
			Offset: offset,
			Size:   rec.Size(),
		}
	}

	if err := out.Sync(); err != nil {
		return merged, nil, err
	}
	return merged, positions, nil
}

// discard 删除合并失败时已写出的新文件，旧文件不受影响
func (db *DB) discard(files []*DataFile) {
	for _, f := range files {
		f.Close()
		os.Remove(filepath.Join(db.dir, dataFileName(f.GetFileID())))
	}
}
