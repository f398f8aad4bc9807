// Package minio shares published color vector revisions through MinIO
// or any S3-compatible object store (Ceph, Garage, SeaweedFS).
//
// # Usage
//
//	store, err := minio.Connect("localhost:9000", accessKey, secretKey, "colorvectors", false)
//	if err != nil {
//	    return err
//	}
//
//	manifest, err := blobstore.Publish(ctx, store, vectors, "spring-2024")
//
// An existing *minio.Client can be wrapped directly:
//
//	store := minio.NewStore(client, "colorvectors", func(o *minio.Options) {
//	    o.Prefix = "team-a/"
//	})
//
// # Features
//
//   - Ranged reads for partial snapshot fetches
//   - Streaming uploads without buffering the whole snapshot
//   - Air-gap friendly, no AWS account required
package minio
