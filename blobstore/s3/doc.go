// Package s3 stores published color vector revisions in Amazon S3,
// with an optional DynamoDB registry that arbitrates concurrent
// publishers.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    return err
//	}
//
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", func(o *s3.Options) {
//	    o.Prefix = "colorvectors/"
//	})
//
//	registry := s3.NewRegistry(dynamodb.NewFromConfig(cfg), "huevec-revisions", "colorvectors")
//
//	manifest, err := blobstore.Publish(ctx, store, vectors, "spring-2024", func(o *blobstore.PublishOptions) {
//	    o.Registry = registry
//	})
//
// # Features
//
//   - Ranged reads for partial snapshot fetches
//   - Multipart streaming uploads for large snapshots
//   - CRC32C checksums verified by S3 on receipt
//   - Automatic pagination for listing
//   - Configurable prefix for sharing a bucket
package s3
