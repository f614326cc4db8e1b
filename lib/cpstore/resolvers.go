package cpstore

import "context"

// VMResolver adapts Store to middleware.ResourceResolver for the /vms/
// path prefix, resolving by ID, name, or unambiguous ID prefix.
type VMResolver struct{ Store *Store }

func (r VMResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	vm, err := r.Store.GetVMByIDOrName(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return vm.ID, vm, nil
}

// HostResolver adapts Store to middleware.ResourceResolver for /hosts/.
// Hosts have no separate name field distinct from ID in this schema, so
// resolution is by exact ID only.
type HostResolver struct{ Store *Store }

func (r HostResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	h, err := r.Store.GetHost(ctx, idOrName)
	if err == nil {
		return h.ID, h, nil
	}
	return "", nil, err
}

// StoragePoolResolver adapts Store for /storage-pools/.
type StoragePoolResolver struct{ Store *Store }

func (r StoragePoolResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	p, err := r.Store.GetStoragePool(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return p.ID, p, nil
}

// StorageObjectResolver adapts Store for /storage-objects/.
type StorageObjectResolver struct{ Store *Store }

func (r StorageObjectResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	o, err := r.Store.GetStorageObject(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return o.ID, o, nil
}

// BootSourceResolver adapts Store for /boot-sources/.
type BootSourceResolver struct{ Store *Store }

func (r BootSourceResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	b, err := r.Store.GetBootSource(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return b.ID, b, nil
}

// JobResolver adapts Store for /jobs/.
type JobResolver struct{ Store *Store }

func (r JobResolver) Resolve(ctx context.Context, idOrName string) (string, any, error) {
	j, err := r.Store.GetJob(ctx, idOrName)
	if err != nil {
		return "", nil, err
	}
	return j.ID, j, nil
}
