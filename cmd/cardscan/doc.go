// Command cardscan builds a card catalog from a manifest and identifies
// cards in photos against it.
//
//	cardscan ingest allCards.json      # extract features into the catalog db
//	cardscan identify photo.jpg        # identify one or more photos
//	cardscan replay frames/            # replay a frame sequence through the scheduler
//	cardscan catalog find elsa         # search the loaded catalog
//	cardscan stats                     # scan counters
package main
