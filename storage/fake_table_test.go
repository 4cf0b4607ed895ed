package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

type fakeRow struct {
	data []byte
	etag azcore.ETag
}

type fakeTable struct {
	order    []string
	rows     map[string]fakeRow
	seq      int
	pageSize int
	filters  []string
	gets     int
	updates  int
	listErr  error
	// beforeUpdate runs ahead of every UpdateEntity call.
	beforeUpdate func(f *fakeTable)
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]fakeRow{}, pageSize: 100}
}

func rowKey(pk, rk string) string { return pk + "/" + rk }

func (f *fakeTable) nextETag() azcore.ETag {
	f.seq++
	return azcore.ETag("W/\"" + strconv.Itoa(f.seq) + "\"")
}

func (f *fakeTable) put(ent any) {
	data, err := json.Marshal(ent)
	if err != nil {
		panic(err)
	}
	var keys Entity
	_ = json.Unmarshal(data, &keys)
	k := rowKey(keys.PartitionKey, keys.RowKey)
	if _, ok := f.rows[k]; !ok {
		f.order = append(f.order, k)
	}
	f.rows[k] = fakeRow{data: data, etag: f.nextETag()}
}

func (f *fakeTable) entity(pk, rk string) (taskEntity, bool) {
	row, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return taskEntity{}, false
	}
	ent, err := decodeTaskEntity(row.data)
	if err != nil {
		panic(err)
	}
	return ent, true
}

// touch changes the ETag of a row as a concurrent writer would.
func (f *fakeTable) touch(pk, rk string) {
	k := rowKey(pk, rk)
	row := f.rows[k]
	row.etag = f.nextETag()
	f.rows[k] = row
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	if opts != nil && opts.Filter != nil {
		f.filters = append(f.filters, *opts.Filter)
	}
	var all [][]byte
	for _, k := range f.order {
		if row, ok := f.rows[k]; ok {
			all = append(all, row.data)
		}
	}
	next := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return next < len(all) },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if f.listErr != nil {
				return aztables.ListEntitiesResponse{}, f.listErr
			}
			end := next + f.pageSize
			if end > len(all) {
				end = len(all)
			}
			page := all[next:end]
			next = end
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.gets++
	row, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: 404, ErrorCode: "ResourceNotFound"}
	}
	return aztables.GetEntityResponse{ETag: row.etag, Value: row.data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	var keys Entity
	if err := json.Unmarshal(entity, &keys); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	if _, ok := f.rows[rowKey(keys.PartitionKey, keys.RowKey)]; ok {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: 409, ErrorCode: "EntityAlreadyExists"}
	}
	f.put(json.RawMessage(entity))
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.updates++
	if f.beforeUpdate != nil {
		f.beforeUpdate(f)
	}
	var patch map[string]any
	if err := json.Unmarshal(entity, &patch); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	k := rowKey(patch["PartitionKey"].(string), patch["RowKey"].(string))
	row, ok := f.rows[k]
	if !ok {
		return aztables.UpdateEntityResponse{}, &azcore.ResponseError{StatusCode: 404}
	}
	if opts != nil && opts.IfMatch != nil && *opts.IfMatch != azcore.ETagAny && *opts.IfMatch != row.etag {
		return aztables.UpdateEntityResponse{}, &azcore.ResponseError{StatusCode: 412, ErrorCode: "UpdateConditionNotSatisfied"}
	}
	var cur map[string]any
	if err := json.Unmarshal(row.data, &cur); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	for key, v := range patch {
		cur[key] = v
	}
	data, _ := json.Marshal(cur)
	f.rows[k] = fakeRow{data: data, etag: f.nextETag()}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	k := rowKey(pk, rk)
	if _, ok := f.rows[k]; !ok {
		return aztables.DeleteEntityResponse{}, &azcore.ResponseError{StatusCode: 404}
	}
	delete(f.rows, k)
	return aztables.DeleteEntityResponse{}, nil
}

type fakeQueue struct {
	messages []string
	err      error
}

func (q *fakeQueue) EnqueueMessage(ctx context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if q.err != nil {
		return azqueue.EnqueueMessagesResponse{}, q.err
	}
	q.messages = append(q.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

var errQueueDown = errors.New("queue unavailable")
