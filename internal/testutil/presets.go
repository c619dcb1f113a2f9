package testutil

// WithCycleTestData adds three two-node cycles, one per reference kind.
//
// Structure:
//
//	test:cycleA  --components--> test:cycleB  --components--> test:cycleA
//	test:parentA --extends-->    test:parentB --extends-->    test:parentA
//	test:depA    --dependencies--> test:depB  --dependencies--> test:depA
func (b *Builder) WithCycleTestData() *Builder {
	return b.
		WithComponent("test:cycleA", Global(), Components("test:cycleB")).
		WithComponent("test:cycleB", Global(), Components("test:cycleA")).
		WithComponent("test:parentA", Global(), Extensible(), Extends("test:parentB")).
		WithComponent("test:parentB", Global(), Extensible(), Extends("test:parentA")).
		WithComponent("test:depA", Global(), DependsOn("test:depB", "")).
		WithComponent("test:depB", Global(), DependsOn("test:depA", ""))
}

// WithChainTestData adds a linear reference chain.
//
// Structure:
//
//	test:top (application)
//	  └── test:middle
//	        └── test:bottom
//	              └── test:leafEvent (event)
func (b *Builder) WithChainTestData() *Builder {
	return b.
		WithApplication("test:top", Global(), Components("test:middle")).
		WithComponent("test:middle", Global(), Components("test:bottom")).
		WithComponent("test:bottom", Global(), Events("test:leafEvent")).
		WithEvent("test:leafEvent", Global())
}

// WithHouseboatTestData adds the applications used by find tests.
func (b *Builder) WithHouseboatTestData() *Builder {
	return b.
		WithApplication("test:houseboat", Global()).
		WithApplication("test:houseparty", Global()).
		WithApplication("test:pantsparty", Global())
}
